// Package bridge implements the message protocol with the host page that
// embeds the widget.
package bridge

import (
	"log/slog"
	"time"

	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/ashureev/tellerbot/internal/sched"
)

// DefaultDehighlightReason is sent when dehighlighting without a reason.
const DefaultDehighlightReason = domain.InstructionMarkComplete

// Poster delivers a message to the host page. Delivery is fire-and-forget.
type Poster interface {
	PostHost(msg domain.HostMessage)
}

// Options configures a Bridge.
type Options struct {
	// Automatic schedules each highlighted action to run after ActionDelay.
	// When false the user is expected to act and nothing is executed.
	Automatic   bool
	ActionDelay time.Duration
	Logger      *slog.Logger
}

// Bridge tracks the Highlight Set and the actions scheduled against it.
type Bridge struct {
	poster  Poster
	sched   sched.Scheduler
	opts    Options
	logger  *slog.Logger
	active  map[string]struct{}
	order   []string
	pending sched.Group
}

// New creates a bridge with an empty Highlight Set.
func New(poster Poster, s sched.Scheduler, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		poster: poster,
		sched:  s,
		opts:   opts,
		logger: logger,
		active: make(map[string]struct{}),
	}
}

// Announce tells the host page which persona is embedded.
func (b *Bridge) Announce(persona string) {
	b.poster.PostHost(domain.HostMessage{Instruction: domain.InstructionSendAssistant, Assistant: persona})
}

// Highlight marks selector on the host page. Selectors already in the set
// are left alone. It reports whether a message was posted.
func (b *Bridge) Highlight(selector string) bool {
	if selector == "" {
		return false
	}
	if _, ok := b.active[selector]; ok {
		return false
	}
	b.logger.Debug("Highlighting", "selector", selector)
	b.poster.PostHost(domain.HostMessage{Selector: selector, Instruction: domain.InstructionHighlight})
	b.active[selector] = struct{}{}
	b.order = append(b.order, selector)
	return true
}

// DehighlightAll posts reason for every active selector and empties the set.
func (b *Bridge) DehighlightAll(reason string) int {
	if reason == "" {
		reason = DefaultDehighlightReason
	}
	n := len(b.order)
	for _, selector := range b.order {
		b.logger.Debug("Dehighlighting", "selector", selector, "reason", reason)
		b.poster.PostHost(domain.HostMessage{Selector: selector, Instruction: reason})
	}
	b.active = make(map[string]struct{})
	b.order = nil
	return n
}

// Active returns the highlighted selectors in highlight order.
func (b *Bridge) Active() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// PerformAction asks the host page to run action on selector now.
func (b *Bridge) PerformAction(selector, action string, value any) {
	b.logger.Info("Sending action", "selector", selector, "action", action)
	b.poster.PostHost(domain.HostMessage{Selector: selector, Instruction: action, Value: value})
}

// Dispatch arranges for an action according to the mode: scheduled after the
// delay (or sent at once with a zero delay) in automatic mode, nothing in
// assisted mode. The returned handle is nil when nothing was scheduled.
func (b *Bridge) Dispatch(selector, action string, value any) *sched.Handle {
	if !b.opts.Automatic {
		return nil
	}
	if b.opts.ActionDelay <= 0 {
		b.PerformAction(selector, action, value)
		return nil
	}
	h := b.sched.After(b.opts.ActionDelay, func() {
		b.PerformAction(selector, action, value)
	})
	b.pending.Add(h)
	return h
}

// CancelPending cancels every scheduled action that has not fired.
func (b *Bridge) CancelPending() int {
	n := b.pending.CancelAll()
	if n > 0 {
		b.logger.Info("Cancelled superseded actions", "count", n)
	}
	return n
}

// PendingActions returns the number of scheduled actions still waiting.
func (b *Bridge) PendingActions() int {
	return b.pending.Pending()
}

// ParseInbound extracts the text of a host "log" instruction.
func ParseInbound(msg domain.HostMessage) (string, bool) {
	if msg.Instruction != domain.InstructionLog || msg.Text == "" {
		return "", false
	}
	return msg.Text, true
}

// Close cancels pending actions.
func (b *Bridge) Close() {
	b.pending.CancelAll()
}

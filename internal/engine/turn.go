package engine

import (
	"errors"
	"strings"

	"github.com/ashureev/tellerbot/internal/convlog"
	"github.com/ashureev/tellerbot/internal/dialogue"
	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/ashureev/tellerbot/internal/store"
)

// Fallback lines shown (and spoken) when a turn fails. They are not added to history.
const (
	OfflineMessage   = "Sorry, I can't reach the assistant right now. Please try again in a moment."
	MalformedMessage = "Sorry, something went wrong on my side. Please try again."
)

// Trigger describes what started a turn. At most one of Navigated,
// FormChanged or Text is meaningful.
type Trigger struct {
	Navigated   bool
	FormChanged bool
	Text        string
}

// Resume is the trigger used when a page loads with a resolved intent.
func Resume() Trigger {
	return Trigger{Navigated: true, Text: domain.ResumeMarker}
}

// FormChanged is the trigger used after a host form change.
func FormChanged() Trigger {
	return Trigger{FormChanged: true}
}

// Text is the trigger for typed or transcribed user input.
func Text(s string) Trigger {
	return Trigger{Text: s}
}

func (t Trigger) userText() bool {
	return !t.Navigated && !t.FormChanged
}

func (t Trigger) kind() string {
	switch {
	case t.Navigated:
		return "resume"
	case t.FormChanged:
		return "form_change"
	}
	return "text"
}

// RunTurn runs one request/response cycle with the dialogue backend. While a
// turn is in flight, later triggers queue and run in arrival order.
// Delayed actions scheduled before the trigger arrived are cancelled here;
// actions from a response that lands while the trigger waits still run.
func (c *Controller) RunTurn(t Trigger) {
	if c.closed {
		return
	}
	if t.userText() {
		t.Text = strings.TrimSpace(t.Text)
		if t.Text == "" {
			return
		}
	}
	c.bridge.CancelPending()
	if c.inFlight {
		c.logger.Debug("Turn queued behind in-flight request", "trigger", t.kind())
		c.queue = append(c.queue, t)
		return
	}
	c.beginTurn(t)
}

// InFlight reports whether a backend request is pending.
func (c *Controller) InFlight() bool {
	return c.inFlight
}

// Queued returns the number of triggers waiting for the in-flight turn.
func (c *Controller) Queued() int {
	return len(c.queue)
}

func (c *Controller) beginTurn(t Trigger) {
	c.inFlight = true

	substepFlags := c.state.SubstepFlags
	if c.extractor.Applies(c.page) {
		substepFlags = c.extractor.Extract(c.page, c.snapshot)
	}
	if substepFlags == nil {
		substepFlags = map[string]bool{}
	}

	if t.userText() {
		c.appendTurn(domain.UserTurn(t.Text))
	}

	req := dialogue.Request{
		Messages:       c.state.Clone().History,
		NewPageLoaded:  t.Navigated,
		SubstepUpdated: t.FormChanged,
		CurrentPage:    c.page,
		SubstepFlags:   substepFlags,
		Assistant:      c.persona.ID,
	}
	if c.state.HasIntent() {
		intent := c.state.Intent
		req.Intent = &intent
	}
	if c.persona.SendState && len(c.state.State) > 0 {
		req.State = append([]byte(nil), c.state.State...)
	}

	c.logger.Info("Sending turn", "trigger", t.kind(), "intent", c.state.Intent, "messages", len(req.Messages))
	c.logEvent(convlog.DirectionOutbound, convlog.EventBackendCall, t.Text, map[string]any{
		"trigger":       t.kind(),
		"substep_flags": substepFlags,
	})

	ctx, backend, endpoint := c.ctx, c.backend, c.persona.Endpoint
	c.spawn(func() {
		resp, err := backend.Turn(ctx, endpoint, req)
		c.post(func() { c.finishTurn(resp, err) })
	})
}

func (c *Controller) finishTurn(resp *dialogue.Response, err error) {
	c.inFlight = false
	if c.closed {
		return
	}
	if err != nil {
		c.turnFailed(err)
	} else {
		c.applyResponse(resp)
	}
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.beginTurn(next)
	}
}

func (c *Controller) turnFailed(err error) {
	c.logEvent(convlog.DirectionInbound, convlog.EventBackendError, err.Error(), nil)
	message := MalformedMessage
	if errors.Is(err, dialogue.ErrUnavailable) {
		c.logger.Error("Dialogue backend unreachable", "error", err)
		message = OfflineMessage
		if !c.offline {
			c.offline = true
			c.view.Status(true)
		}
	} else {
		c.logger.Warn("Dialogue turn failed", "error", err)
	}
	fallback := domain.AssistantTurn(message)
	c.view.Render(fallback)
	c.speech.Announce(fallback.Content, c.state.History)
}

// applyResponse folds a backend reply into the session, then replaces the
// previous turn's highlights with this turn's actions.
func (c *Controller) applyResponse(resp *dialogue.Response) {
	if c.offline {
		c.offline = false
		c.view.Status(false)
	}
	if resp == nil {
		resp = &dialogue.Response{}
	}

	var patch store.Patch
	if domain.IsResolvedIntent(resp.Intent) {
		c.state.Intent = resp.Intent
		patch.Intent = store.String(resp.Intent)
	}
	if resp.HasState() {
		c.state.State = resp.State
		patch.State = resp.State
	}
	if resp.SubstepFlags != nil {
		c.state.SubstepFlags = resp.SubstepFlags
		patch.Flags = resp.SubstepFlags
	}
	c.save(patch)

	if resp.BotMessage != "" {
		c.appendTurn(domain.AssistantTurn(resp.BotMessage))
	}

	c.bridge.DehighlightAll("")
	for _, act := range resp.AllActions() {
		if act.Selector != "" {
			c.bridge.Highlight(act.Selector)
		}
		if act.Executable() {
			c.bridge.Dispatch(act.Selector, act.Action, act.Value)
			c.logEvent(convlog.DirectionOutbound, convlog.EventHostAction, act.Action, map[string]any{
				"selector": act.Selector,
			})
		}
		if act.ImmediateReply != "" {
			c.appendTurn(domain.AssistantTurn(act.ImmediateReply))
		}
	}
}

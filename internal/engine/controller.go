// Package engine hosts the per-tab widget controller: it owns the session
// state, runs conversation turns against the dialogue backend, and drives the
// speech coordinator and host-page bridge.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/tellerbot/internal/bridge"
	"github.com/ashureev/tellerbot/internal/config"
	"github.com/ashureev/tellerbot/internal/convlog"
	"github.com/ashureev/tellerbot/internal/dialogue"
	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/ashureev/tellerbot/internal/flags"
	"github.com/ashureev/tellerbot/internal/sched"
	"github.com/ashureev/tellerbot/internal/speech"
	"github.com/ashureev/tellerbot/internal/store"
)

// storeTimeout bounds each session store call.
const storeTimeout = 5 * time.Second

// snapshotWait bounds how long a resume turn waits for the relay's first form
// snapshot on pages with flag rules.
const snapshotWait = 1500 * time.Millisecond

// View renders widget state in the browser.
type View interface {
	Ready(info ReadyInfo)
	Render(turn domain.Turn)
	Status(offline bool)
	Collapse(collapsed bool)
}

// ReadyInfo is sent once the session has been rehydrated.
type ReadyInfo struct {
	TabID     string        `json:"tab_id"`
	Persona   string        `json:"persona"`
	History   []domain.Turn `json:"history"`
	Listening bool          `json:"listening"`
	Collapsed bool          `json:"collapsed"`
	// Watch lists the host form controls whose values feed substep flags.
	Watch []string `json:"watch"`
}

// Ports are the browser-side collaborators of a controller.
type Ports struct {
	View        View
	Host        bridge.Poster
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	Notifier    speech.Notifier
}

// Options configures a controller for one widget load.
type Options struct {
	TabID     string
	Page      string
	Persona   config.Persona
	Store     store.SessionStore
	Backend   dialogue.Turner
	Extractor *flags.Extractor
	Summary   *speech.Summary
	Speech    config.SpeechConfig
	Scheduler sched.Scheduler
	// Post delivers fn back onto the controller's loop.
	Post func(fn func())
	// Spawn runs blocking work off the loop. Defaults to a new goroutine.
	Spawn   func(fn func())
	ConvLog convlog.Logger
	Logger  *slog.Logger
}

// Controller is the single owner of one tab's session state. All methods
// must run on the same goroutine.
type Controller struct {
	opts      Options
	persona   config.Persona
	page      string
	tabID     string
	store     store.SessionStore
	backend   dialogue.Turner
	extractor *flags.Extractor
	view      View
	bridge    *bridge.Bridge
	speech    *speech.Coordinator
	convlog   convlog.Logger
	logger    *slog.Logger
	post      func(func())
	spawn     func(func())

	ctx    context.Context
	cancel context.CancelFunc

	state    domain.SessionState
	snapshot *flags.Snapshot
	// resumeWait is armed while a resume turn waits for the first snapshot.
	resumeWait *sched.Handle
	inFlight   bool
	queue      []Trigger
	offline    bool
	started    bool
	closed     bool
}

// NewController wires a controller. Start must be called before any input.
func NewController(opts Options, ports Ports) (*Controller, error) {
	if opts.TabID == "" {
		return nil, store.ErrInvalidTabID
	}
	if opts.Store == nil || opts.Backend == nil {
		return nil, errors.New("engine: store and backend are required")
	}
	if ports.View == nil || ports.Host == nil || ports.Recognizer == nil || ports.Synthesizer == nil || ports.Notifier == nil {
		return nil, errors.New("engine: all ports are required")
	}
	if opts.Scheduler == nil || opts.Post == nil {
		return nil, errors.New("engine: scheduler and post are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("tab_id", opts.TabID, "page", opts.Page, "persona", opts.Persona.ID)
	extractor := opts.Extractor
	if extractor == nil {
		extractor, _ = flags.NewExtractor(nil, logger)
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	cl := opts.ConvLog
	if cl == nil {
		cl = convlog.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:      opts,
		persona:   opts.Persona,
		page:      opts.Page,
		tabID:     opts.TabID,
		store:     opts.Store,
		backend:   opts.Backend,
		extractor: extractor,
		view:      ports.View,
		convlog:   cl,
		logger:    logger,
		post:      opts.Post,
		spawn:     spawn,
		ctx:       ctx,
		cancel:    cancel,
		state:     domain.NewSessionState(),
	}
	c.bridge = bridge.New(ports.Host, opts.Scheduler, bridge.Options{
		Automatic:   opts.Persona.Automatic(),
		ActionDelay: opts.Persona.ActionDelay,
		Logger:      logger,
	})
	c.speech = speech.NewCoordinator(ports.Recognizer, ports.Synthesizer, ports.Notifier, opts.Scheduler, speech.Options{
		Lang:         opts.Persona.Voice.Lang,
		Rate:         opts.Persona.Voice.Rate,
		SettleDelay:  opts.Speech.SettleDelay,
		RestartPoll:  opts.Speech.RestartPoll,
		Summary:      opts.Summary,
		OnTranscript: c.SubmitTranscript,
		Logger:       logger,
	})
	return c, nil
}

// Start rehydrates the session, announces the persona to the host page and
// auto-resumes when a resolved intent is stored.
func (c *Controller) Start() {
	if c.started || c.closed {
		return
	}
	c.started = true

	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	st, err := c.store.Load(ctx, c.tabID)
	cancel()
	if err != nil {
		c.logger.Warn("Failed to load session, starting fresh", "error", err)
		st = domain.NewSessionState()
	}
	c.state = st

	// Flags describe the previous page's form; a new page starts clean.
	if len(c.state.SubstepFlags) > 0 {
		c.state.SubstepFlags = map[string]bool{}
		c.save(store.Patch{Flags: c.state.SubstepFlags})
	}

	c.bridge.Announce(c.persona.ID)
	c.view.Ready(ReadyInfo{
		TabID:     c.tabID,
		Persona:   c.persona.ID,
		History:   c.state.Clone().History,
		Listening: c.state.Listening,
		Collapsed: c.state.CollapsedOr(c.persona.CollapsedDefault),
		Watch:     c.extractor.Selectors(c.page),
	})
	c.logger.Info("Widget session started", "history", len(c.state.History), "intent", c.state.Intent, "listening", c.state.Listening)

	if c.state.Listening {
		c.speech.Enable()
	}
	if c.state.HasIntent() {
		c.logger.Info("Auto-resuming on new page", "intent", c.state.Intent)
		if c.extractor.Applies(c.page) && c.snapshot == nil {
			c.resumeWait = c.opts.Scheduler.After(snapshotWait, c.flushResume)
			return
		}
		c.RunTurn(Resume())
	}
}

// flushResume runs a resume turn held back for the first form snapshot.
func (c *Controller) flushResume() {
	if c.resumeWait == nil {
		return
	}
	if !c.resumeWait.Cancel() && c.snapshot == nil {
		c.logger.Warn("No form snapshot from relay, resuming without it")
	}
	c.resumeWait = nil
	c.RunTurn(Resume())
}

// State returns a copy of the in-memory session state.
func (c *Controller) State() domain.SessionState {
	return c.state.Clone()
}

// SpeechState returns the coordinator state.
func (c *Controller) SpeechState() speech.State {
	return c.speech.State()
}

// ToggleVoice turns voice mode on or off. Turning it on expands the widget,
// speaks the welcome line and resumes a stored intent.
func (c *Controller) ToggleVoice(on bool) {
	if c.closed {
		return
	}
	if on {
		if !c.speech.Enable() {
			return
		}
		c.state.Listening = true
		c.save(store.Patch{Listening: store.Bool(true)})
		c.setCollapsed(false, true)

		if c.persona.Welcome != "" {
			welcome := domain.AssistantTurn(c.persona.Welcome)
			c.view.Render(welcome)
			c.speech.Announce(welcome.Content, c.state.History)
		}
		if c.state.HasIntent() {
			c.logger.Info("Resuming after voice on", "intent", c.state.Intent)
			if c.resumeWait != nil {
				c.flushResume()
			} else {
				c.RunTurn(Resume())
			}
		}
		return
	}

	if !c.speech.Disable() {
		return
	}
	c.state.Listening = false
	c.save(store.Patch{Listening: store.Bool(false)})
	if c.persona.CollapseOnVoice {
		c.setCollapsed(true, true)
	}
}

// SetCollapsed records the user's expand/collapse choice.
func (c *Controller) SetCollapsed(collapsed bool) {
	if c.closed {
		return
	}
	c.setCollapsed(collapsed, false)
}

func (c *Controller) setCollapsed(collapsed, echo bool) {
	c.state.Collapsed = &collapsed
	c.save(store.Patch{Collapsed: store.Bool(collapsed)})
	if echo {
		c.view.Collapse(collapsed)
	}
}

// SubmitText runs a turn for typed text. Blank text is dropped.
func (c *Controller) SubmitText(text string) {
	c.RunTurn(Text(text))
}

// SubmitTranscript runs a turn for a recognized utterance.
func (c *Controller) SubmitTranscript(text string) {
	c.RunTurn(Text(text))
}

// HostLog folds a host-page "log" instruction into history as a user turn.
func (c *Controller) HostLog(msg domain.HostMessage) {
	if c.closed {
		return
	}
	text, ok := bridge.ParseInbound(msg)
	if !ok {
		return
	}
	c.appendTurn(domain.UserTurn(text))
	if c.persona.ResumeOnLog {
		c.RunTurn(Resume())
	}
}

// FormSnapshot stores the latest host form state without triggering a turn.
// A resume turn waiting for this snapshot runs now.
func (c *Controller) FormSnapshot(snap flags.Snapshot) {
	if c.closed {
		return
	}
	c.snapshot = &snap
	c.flushResume()
}

// FormChange stores the snapshot and, when the persona's gating allows it,
// runs a form-change turn.
func (c *Controller) FormChange(snap flags.Snapshot) {
	if c.closed {
		return
	}
	c.snapshot = &snap
	c.flushResume()
	if !c.extractor.Applies(c.page) {
		return
	}
	if c.persona.FormChange == config.FormChangeAllComplete && !c.extractor.Complete(c.page, c.snapshot) {
		c.logger.Debug("Form change ignored until every field is complete")
		return
	}
	c.RunTurn(FormChanged())
}

// Logout clears the persisted session and resets the widget.
func (c *Controller) Logout() {
	if c.closed {
		return
	}
	c.bridge.CancelPending()
	c.bridge.DehighlightAll("")
	c.speech.Disable()
	c.queue = nil
	c.resumeWait.Cancel()
	c.resumeWait = nil

	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	if err := c.store.Clear(ctx, c.tabID); err != nil {
		c.logger.Error("Failed to clear session", "error", err)
	}
	cancel()
	c.state = domain.NewSessionState()
	c.logger.Info("Session cleared on logout")

	c.view.Ready(ReadyInfo{
		TabID:     c.tabID,
		Persona:   c.persona.ID,
		History:   []domain.Turn{},
		Collapsed: c.persona.CollapsedDefault,
		Watch:     c.extractor.Selectors(c.page),
	})
}

// SpeechResult forwards a recognizer transcript.
func (c *Controller) SpeechResult(transcript string) {
	if !c.closed {
		c.speech.RecognitionResult(transcript)
	}
}

// SpeechEnded forwards the recognizer end event.
func (c *Controller) SpeechEnded() {
	if !c.closed {
		c.speech.RecognitionEnded()
	}
}

// SpeechError forwards a recognizer error code.
func (c *Controller) SpeechError(code string) {
	if !c.closed {
		c.speech.RecognitionError(code)
	}
}

// UtteranceStarted forwards the synthesizer start event.
func (c *Controller) UtteranceStarted() {
	if !c.closed {
		c.speech.UtteranceStarted()
	}
}

// UtteranceEnded forwards the synthesizer end event.
func (c *Controller) UtteranceEnded() {
	if !c.closed {
		c.speech.UtteranceEnded()
	}
}

// Close cancels timers and any in-flight backend request.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.resumeWait.Cancel()
	c.cancel()
	c.bridge.Close()
	c.speech.Close()
	c.queue = nil
}

// appendTurn adds turn to history, persists it and renders it. Assistant
// turns are spoken when voice mode is on.
func (c *Controller) appendTurn(turn domain.Turn) {
	c.state.History = append(c.state.History, turn)
	c.save(store.Patch{History: c.state.History})
	c.view.Render(turn)

	direction, event := convlog.DirectionInbound, convlog.EventUserTurn
	if turn.Role == domain.RoleAssistant {
		direction, event = convlog.DirectionOutbound, convlog.EventAssistantTurn
		c.speech.Announce(turn.Content, c.state.History)
	}
	c.logEvent(direction, event, turn.Content, nil)
}

func (c *Controller) save(patch store.Patch) {
	if patch.Empty() {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	defer cancel()
	if err := c.store.Save(ctx, c.tabID, patch); err != nil {
		c.logger.Error("Failed to persist session", "error", err)
	}
}

func (c *Controller) logEvent(direction, event, content string, meta map[string]any) {
	c.convlog.Log(convlog.Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		TabID:      c.tabID,
		Persona:    c.persona.ID,
		Page:       c.page,
		Direction:  direction,
		EventType:  event,
		ContentRaw: content,
		Meta:       meta,
	})
}

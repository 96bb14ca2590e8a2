// Package speech arbitrates the microphone and the synthesizer so the widget
// never transcribes its own voice.
package speech

import (
	"log/slog"
	"time"

	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/ashureev/tellerbot/internal/sched"
)

// State is the coordinator's position in the voice state machine.
type State int

const (
	// Idle means voice mode is off.
	Idle State = iota
	// Listening means recognition is (or is about to be) active.
	Listening
	// Speaking means a synthesized utterance is playing.
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	}
	return "unknown"
}

// Recognizer controls the speech recognizer.
type Recognizer interface {
	Start()
	// Abort cancels recognition immediately, discarding any pending result.
	Abort()
}

// Synthesizer queues an utterance for playback.
type Synthesizer interface {
	Speak(u Utterance)
}

// Notifier surfaces a blocking message to the user.
type Notifier interface {
	Notify(text string)
}

// Utterance is one piece of synthesized speech.
type Utterance struct {
	Text string  `json:"text"`
	Lang string  `json:"lang"`
	Rate float64 `json:"rate"`
}

// Options configures a Coordinator.
type Options struct {
	Lang         string
	Rate         float64
	SettleDelay  time.Duration
	RestartPoll  time.Duration
	Summary      *Summary
	OnTranscript func(text string)
	Logger       *slog.Logger
}

// Coordinator enforces that listening and speaking never overlap and hands
// off between them automatically.
type Coordinator struct {
	rec     Recognizer
	syn     Synthesizer
	notify  Notifier
	sched   sched.Scheduler
	opts    Options
	logger  *slog.Logger
	voiceOn bool
	// recognizing tracks whether Start was issued without a matching end, so
	// the settle restart and the poll restart never double-start.
	recognizing bool
	// outstanding counts utterances queued but not yet ended.
	outstanding int
	settle      *sched.Handle
	poll        *sched.Handle
}

// NewCoordinator creates a coordinator in the Idle state.
func NewCoordinator(rec Recognizer, syn Synthesizer, notify Notifier, s sched.Scheduler, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RestartPoll <= 0 {
		opts.RestartPoll = 500 * time.Millisecond
	}
	return &Coordinator{rec: rec, syn: syn, notify: notify, sched: s, opts: opts, logger: logger}
}

// State returns the current state.
func (c *Coordinator) State() State {
	switch {
	case c.outstanding > 0:
		return Speaking
	case c.voiceOn:
		return Listening
	}
	return Idle
}

// VoiceOn reports whether voice mode is active.
func (c *Coordinator) VoiceOn() bool {
	return c.voiceOn
}

// Enable turns voice mode on and starts recognition. It reports false when
// voice mode was already on.
func (c *Coordinator) Enable() bool {
	if c.voiceOn {
		return false
	}
	c.voiceOn = true
	c.startRecognition()
	return true
}

// Disable turns voice mode off, hard-cancelling recognition and any pending
// restart. It reports false when voice mode was already off.
func (c *Coordinator) Disable() bool {
	if !c.voiceOn {
		return false
	}
	c.voiceOn = false
	c.cancelTimers()
	c.recognizing = false
	c.rec.Abort()
	return true
}

// Announce speaks an assistant message when voice mode is on. When a summary
// is configured and history holds a matching recap, the recap is spoken first.
func (c *Coordinator) Announce(text string, history []domain.Turn) {
	if !c.voiceOn {
		return
	}
	if c.opts.Summary != nil {
		if recap := c.opts.Summary.Lookup(history); recap != "" {
			c.say(recap)
		}
	}
	c.say(text)
}

// say enters Speaking: recognition is aborted before the utterance is queued.
func (c *Coordinator) say(text string) {
	if text == "" {
		return
	}
	if c.outstanding == 0 {
		c.cancelTimers()
		if c.recognizing {
			c.recognizing = false
			c.rec.Abort()
		}
	}
	c.outstanding++
	c.syn.Speak(Utterance{Text: text, Lang: c.opts.Lang, Rate: c.opts.Rate})
}

// UtteranceStarted handles the synthesizer's start event. An utterance the
// coordinator did not queue still forces recognition off.
func (c *Coordinator) UtteranceStarted() {
	if c.outstanding == 0 {
		c.outstanding = 1
	}
	if c.recognizing {
		c.recognizing = false
		c.rec.Abort()
	}
}

// UtteranceEnded handles the synthesizer's end event. Once the queue drains,
// recognition resumes after the settle delay if voice mode is still on.
func (c *Coordinator) UtteranceEnded() {
	if c.outstanding > 0 {
		c.outstanding--
	}
	if c.outstanding > 0 || !c.voiceOn {
		return
	}
	c.poll.Cancel()
	c.poll = nil
	c.settle.Cancel()
	c.settle = c.sched.After(c.opts.SettleDelay, func() {
		c.settle = nil
		if c.voiceOn {
			c.startRecognition()
		}
	})
}

// RecognitionResult handles a final transcript. Results that arrive while an
// utterance is playing are the synthesizer's own voice and are dropped.
func (c *Coordinator) RecognitionResult(transcript string) {
	if c.outstanding > 0 {
		c.logger.Warn("Ignoring recognition during speech synthesis", "transcript", transcript)
		return
	}
	if !c.voiceOn {
		return
	}
	if transcript == "" || c.opts.OnTranscript == nil {
		return
	}
	c.opts.OnTranscript(transcript)
}

// RecognitionEnded handles the recognizer's end event. Recognition restarts
// at once, or is deferred on a poll while an utterance is playing.
func (c *Coordinator) RecognitionEnded() {
	c.recognizing = false
	c.restart()
}

// RecognitionError classifies a recognizer error. Benign codes are dropped;
// anything else is shown to the user. The state machine is unchanged either
// way and recovers through the end event.
func (c *Coordinator) RecognitionError(code string) {
	if IsBenignError(code) {
		c.logger.Debug("Ignored speech error", "error", code)
		return
	}
	c.logger.Warn("Speech recognition error", "error", code)
	if c.notify != nil {
		c.notify.Notify("Speech recognition error: " + code)
	}
}

// Close cancels pending timers.
func (c *Coordinator) Close() {
	c.cancelTimers()
}

func (c *Coordinator) restart() {
	if !c.voiceOn || c.recognizing || !c.settle.Done() {
		return
	}
	if c.outstanding > 0 {
		if c.poll.Done() {
			c.logger.Debug("Speech still playing, delaying recognition restart")
			c.poll = c.sched.After(c.opts.RestartPoll, func() {
				c.poll = nil
				c.restart()
			})
		}
		return
	}
	c.startRecognition()
}

func (c *Coordinator) startRecognition() {
	if c.recognizing || c.outstanding > 0 {
		return
	}
	c.recognizing = true
	c.rec.Start()
}

func (c *Coordinator) cancelTimers() {
	c.settle.Cancel()
	c.settle = nil
	c.poll.Cancel()
	c.poll = nil
}

// IsBenignError reports whether a recognizer error code is expected noise.
func IsBenignError(code string) bool {
	return code == "no-speech" || code == "aborted"
}

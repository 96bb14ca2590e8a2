package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tellerbot/internal/config"
	"github.com/ashureev/tellerbot/internal/dialogue"
	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/ashureev/tellerbot/internal/flags"
	"github.com/ashureev/tellerbot/internal/sched"
	"github.com/ashureev/tellerbot/internal/speech"
	"github.com/ashureev/tellerbot/internal/store"
)

// recorder collects every observable side effect in one ordered log.
type recorder struct {
	events []string
	ready  []ReadyInfo
	spoken []speech.Utterance
	host   []domain.HostMessage
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, e := range r.events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (r *recorder) index(event string) int {
	for i, e := range r.events {
		if e == event {
			return i
		}
	}
	return -1
}

type fakeView struct{ r *recorder }

func (v fakeView) Ready(info ReadyInfo) {
	v.r.ready = append(v.r.ready, info)
	v.r.add("ready")
}
func (v fakeView) Render(turn domain.Turn) { v.r.add("render %s: %s", turn.Role, turn.Content) }
func (v fakeView) Status(offline bool)     { v.r.add("status offline=%v", offline) }
func (v fakeView) Collapse(collapsed bool) { v.r.add("collapse %v", collapsed) }

type fakeHost struct{ r *recorder }

func (h fakeHost) PostHost(msg domain.HostMessage) {
	h.r.host = append(h.r.host, msg)
	if msg.Selector == "" {
		h.r.add("host %s", msg.Instruction)
		return
	}
	h.r.add("host %s %s", msg.Instruction, msg.Selector)
}

type fakeRecognizer struct{ r *recorder }

func (f fakeRecognizer) Start() { f.r.add("recognition start") }
func (f fakeRecognizer) Abort() { f.r.add("recognition abort") }

type fakeSynth struct{ r *recorder }

func (f fakeSynth) Speak(u speech.Utterance) {
	f.r.spoken = append(f.r.spoken, u)
	f.r.add("speak %s", u.Text)
}

type fakeNotifier struct{ r *recorder }

func (f fakeNotifier) Notify(text string) { f.r.add("notify %s", text) }

// fakeBackend answers turns from a scripted queue.
type fakeBackend struct {
	r         *recorder
	requests  []dialogue.Request
	endpoints []string
	replies   []reply
}

type reply struct {
	resp *dialogue.Response
	err  error
}

func (b *fakeBackend) Turn(_ context.Context, endpoint string, req dialogue.Request) (*dialogue.Response, error) {
	b.requests = append(b.requests, req)
	b.endpoints = append(b.endpoints, endpoint)
	b.r.add("backend call")
	if len(b.replies) == 0 {
		return &dialogue.Response{Intent: "unknown"}, nil
	}
	next := b.replies[0]
	b.replies = b.replies[1:]
	return next.resp, next.err
}

func (b *fakeBackend) respond(resp dialogue.Response) {
	b.replies = append(b.replies, reply{resp: &resp})
}

func (b *fakeBackend) fail(err error) {
	b.replies = append(b.replies, reply{err: err})
}

type harness struct {
	t       *testing.T
	rec     *recorder
	store   *store.MemoryStore
	backend *fakeBackend
	clock   *sched.Manual
	ctrl    *Controller
	// deferred holds spawned backend calls when running asynchronously.
	deferred []func()
	async    bool
}

type harnessOption func(*Options)

func withPage(page string) harnessOption {
	return func(o *Options) { o.Page = page }
}

func withPersona(mutate func(p *config.Persona)) harnessOption {
	return func(o *Options) { mutate(&o.Persona) }
}

func persona(t *testing.T, id string) config.Persona {
	t.Helper()
	p, ok := config.DefaultCatalog().Persona(id)
	if !ok {
		t.Fatalf("persona %s missing from default catalog", id)
	}
	return p
}

func newHarness(t *testing.T, personaID string, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		rec:   &recorder{},
		store: store.NewMemory(),
		clock: sched.NewManual(),
	}
	h.backend = &fakeBackend{r: h.rec}

	cat := config.DefaultCatalog()
	extractor, err := flags.NewExtractor(cat.Flags, nil)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	o := Options{
		TabID:     "tab-1",
		Page:      "index.html",
		Persona:   persona(t, personaID),
		Store:     h.store,
		Backend:   h.backend,
		Extractor: extractor,
		Speech:    config.SpeechConfig{SettleDelay: 800 * time.Millisecond, RestartPoll: 500 * time.Millisecond},
		Scheduler: h.clock,
		Post:      func(fn func()) { fn() },
		Spawn: func(fn func()) {
			if h.async {
				h.deferred = append(h.deferred, fn)
				return
			}
			fn()
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if p, ok := cat.Summaries[o.Page]; ok {
		summary, err := speech.NewSummary(p.Match, p.Prefix)
		if err != nil {
			t.Fatalf("NewSummary: %v", err)
		}
		o.Summary = summary
	}

	ctrl, err := NewController(o, Ports{
		View:        fakeView{h.rec},
		Host:        fakeHost{h.rec},
		Recognizer:  fakeRecognizer{h.rec},
		Synthesizer: fakeSynth{h.rec},
		Notifier:    fakeNotifier{h.rec},
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Close)
	return h
}

// seed writes prior session state as if an earlier page had run.
func (h *harness) seed(patch store.Patch) {
	h.t.Helper()
	if err := h.store.Save(context.Background(), "tab-1", patch); err != nil {
		h.t.Fatalf("seed: %v", err)
	}
}

func (h *harness) stored() domain.SessionState {
	h.t.Helper()
	st, err := h.store.Load(context.Background(), "tab-1")
	if err != nil {
		h.t.Fatalf("load: %v", err)
	}
	return st
}

// runDeferred completes the oldest spawned backend call.
func (h *harness) runDeferred() {
	h.t.Helper()
	if len(h.deferred) == 0 {
		h.t.Fatal("no deferred backend call")
	}
	fn := h.deferred[0]
	h.deferred = h.deferred[1:]
	fn()
}

func (h *harness) reset() {
	h.rec.events = nil
	h.rec.spoken = nil
	h.rec.host = nil
}

package widget

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/tellerbot/internal/config"
	"github.com/ashureev/tellerbot/internal/convlog"
	"github.com/ashureev/tellerbot/internal/dialogue"
	"github.com/ashureev/tellerbot/internal/engine"
	"github.com/ashureev/tellerbot/internal/flags"
	"github.com/ashureev/tellerbot/internal/identity"
	"github.com/ashureev/tellerbot/internal/sched"
	"github.com/ashureev/tellerbot/internal/speech"
	"github.com/ashureev/tellerbot/internal/store"
)

const (
	loopBuffer   = 64
	outboxSize   = 256
	writeTimeout = 10 * time.Second
)

var pagePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Deps are the shared collaborators every connection's controller uses.
type Deps struct {
	Store     store.SessionStore
	Backend   dialogue.Turner
	Catalog   *config.Catalog
	Persona   string
	Extractor *flags.Extractor
	Speech    config.SpeechConfig
	ConvLog   convlog.Logger
	Logger    *slog.Logger
}

// Handler upgrades widget connections and runs one controller per connection.
type Handler struct {
	deps          Deps
	sm            *Manager
	summaries     map[string]*speech.Summary
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// NewHandler creates a widget handler. Summary patterns are compiled up front.
func NewHandler(deps Deps, sm *Manager, allowedOrigin string, isDev bool) (*Handler, error) {
	if deps.Catalog == nil {
		deps.Catalog = config.DefaultCatalog()
	}
	if _, ok := deps.Catalog.Persona(deps.Persona); !ok {
		return nil, fmt.Errorf("unknown persona %q", deps.Persona)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Extractor == nil {
		extractor, err := flags.NewExtractor(deps.Catalog.Flags, logger)
		if err != nil {
			return nil, err
		}
		deps.Extractor = extractor
	}
	summaries := make(map[string]*speech.Summary, len(deps.Catalog.Summaries))
	for page, p := range deps.Catalog.Summaries {
		s, err := speech.NewSummary(p.Match, p.Prefix)
		if err != nil {
			return nil, fmt.Errorf("summary for %s: %w", page, err)
		}
		summaries[page] = s
	}
	return &Handler{
		deps:          deps,
		sm:            sm,
		summaries:     summaries,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}, nil
}

// PageFromQuery reduces a page reference (path or URL) to its file name.
func PageFromQuery(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return ""
	}
	page := path.Base(raw)
	if !pagePattern.MatchString(page) || page == "." || page == ".." {
		return ""
	}
	return page
}

func (h *Handler) persona(requested string) config.Persona {
	if requested != "" {
		if p, ok := h.deps.Catalog.Persona(requested); ok {
			return p
		}
	}
	p, _ := h.deps.Catalog.Persona(h.deps.Persona)
	return p
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tabID := identity.TabIDFromContext(r.Context())
	if tabID == "" {
		tabID = identity.NewTabID()
	}
	query := r.URL.Query()
	page := PageFromQuery(query.Get("page"))
	persona := h.persona(query.Get("persona"))
	logger := h.logger.With("tab_id", tabID, "page", page)
	logger.Info("Widget connection request", "persona", persona.ID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	h.sessions.Add(1)
	h.mu.Unlock()
	defer h.sessions.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.sm.Register(tabID, ws)
	defer h.sm.Unregister(tabID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	loop := engine.NewLoop(loopBuffer)
	post := func(fn func()) { loop.Post(fn) }
	out := newOutbox(outboxSize, cancel, logger)

	ctrl, err := engine.NewController(engine.Options{
		TabID:     tabID,
		Page:      page,
		Persona:   persona,
		Store:     h.deps.Store,
		Backend:   h.deps.Backend,
		Extractor: h.deps.Extractor,
		Summary:   h.summaries[page],
		Speech:    h.deps.Speech,
		Scheduler: sched.NewTimerScheduler(post),
		Post:      post,
		ConvLog:   h.deps.ConvLog,
		Logger:    h.logger,
	}, out.ports())
	if err != nil {
		logger.Error("Failed to create controller", "error", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Output loop: controller -> relay.
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, out, logger)
	}()

	// Input loop: relay -> controller.
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, loop, ctrl, out, logger)
	}()

	loop.Post(ctrl.Start)
	_ = loop.Run(ctx)
	ctrl.Close()
	wg.Wait()
	logger.Info("Widget session ended")
}

// Shutdown refuses new connections, closes every live session and waits for
// their controllers to stop, so nothing touches the store or conversation log
// afterwards.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.sm.CloseAll("server shutting down")

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for widget sessions: %w", ctx.Err())
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, loop *engine.Loop, ctrl *engine.Controller, out *outbox, logger *slog.Logger) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				logger.Debug("WebSocket closed by client")
			case ctx.Err() != nil:
			default:
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			logger.Debug("Skipping malformed frame", "error", err)
			continue
		}
		if msg.Type == TypePing {
			out.pong()
			continue
		}
		ok := loop.Post(func() {
			if !Dispatch(ctrl, msg) {
				logger.Debug("Skipping unknown frame", "type", msg.Type)
			}
		})
		if !ok {
			return
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, out *outbox, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-out.frames:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Debug("WebSocket write error", "error", err)
				}
				return
			}
		}
	}
}

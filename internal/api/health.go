package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendStatus reports whether the dialogue backend was unreachable on the last call.
type BackendStatus interface {
	Offline() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store   Pinger
	backend BackendStatus
}

// NewHealthHandler creates a new health handler. backend may be nil.
func NewHealthHandler(st Pinger, backend BackendStatus) *HealthHandler {
	return &HealthHandler{store: st, backend: backend}
}

// Health returns the health status of the API and its dependencies.
// An offline dialogue backend degrades the report but keeps it 200: the
// widget still serves its offline fallback.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if h.backend != nil {
		if h.backend.Offline() {
			status["status"] = "degraded"
			checks["backend"] = "offline"
		} else {
			checks["backend"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

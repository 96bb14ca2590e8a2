package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tellerbot/internal/identity"
	"github.com/ashureev/tellerbot/internal/store"
)

// SessionHandler exposes persisted widget sessions.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session and config routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/sessions/{tabID}", h.GetSession)
		r.Delete("/sessions/{tabID}", h.DeleteSession)
	})
}

type personaInfo struct {
	ID               string  `json:"id"`
	Lang             string  `json:"lang"`
	Rate             float64 `json:"rate"`
	CollapsedDefault bool    `json:"collapsed_default"`
	ActionMode       string  `json:"action_mode"`
}

// GetConfig returns the personas the widget can be loaded with and the tab id
// assigned to this request.
func (h *SessionHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	personas := make([]personaInfo, 0, len(h.catalog.Personas))
	for _, p := range h.catalog.Personas {
		personas = append(personas, personaInfo{
			ID:               p.ID,
			Lang:             p.Voice.Lang,
			Rate:             p.Voice.Rate,
			CollapsedDefault: p.CollapsedDefault,
			ActionMode:       p.ActionMode,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"tab_id":   identity.TabIDFromContext(r.Context()),
		"persona":  h.persona,
		"personas": personas,
	})
}

// GetSession returns the persisted state of a tab.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	tabID := identity.SanitizeTabID(chi.URLParam(r, "tabID"))
	if tabID == "" {
		Error(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	st, err := h.store.Load(r.Context(), tabID)
	if err != nil {
		slog.Error("Failed to load session", "tab_id", tabID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"tab_id": tabID,
		"active": h.sm.IsActive(tabID),
		"state":  st,
	})
}

// DeleteSession logs a tab out: its live connection is closed and its state cleared.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	tabID := identity.SanitizeTabID(chi.URLParam(r, "tabID"))
	if tabID == "" {
		Error(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	h.sm.CloseSession(tabID)
	if err := h.store.Clear(r.Context(), tabID); err != nil && !errors.Is(err, store.ErrInvalidTabID) {
		slog.Error("Failed to clear session", "tab_id", tabID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	slog.Info("Session cleared", "tab_id", tabID)
	w.WriteHeader(http.StatusNoContent)
}

// Package api provides HTTP handlers for the widget API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/tellerbot/internal/config"
	"github.com/ashureev/tellerbot/internal/store"
	"github.com/ashureev/tellerbot/internal/widget"
)

// Handler provides common handler utilities.
type Handler struct {
	store   store.SessionStore
	sm      *widget.Manager
	catalog *config.Catalog
	persona string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(st store.SessionStore, sm *widget.Manager, catalog *config.Catalog, persona string) *Handler {
	if catalog == nil {
		catalog = config.DefaultCatalog()
	}
	return &Handler{
		store:   st,
		sm:      sm,
		catalog: catalog,
		persona: persona,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/ashureev/tellerbot/internal/identity"
	"github.com/ashureev/tellerbot/internal/store"
	"github.com/ashureev/tellerbot/internal/widget"
)

func newTestRouter(t *testing.T) (*chi.Mux, *store.MemoryStore, *widget.Manager) {
	t.Helper()
	st := store.NewMemory()
	sm := widget.NewManager()
	r := chi.NewRouter()
	r.Use(identity.Middleware())
	NewSessionHandler(NewHandler(st, sm, nil, "frank")).RegisterRoutes(r)
	return r, st, sm
}

func TestGetSession(t *testing.T) {
	r, st, _ := newTestRouter(t)
	if err := st.Save(context.Background(), "tab-1", store.Patch{
		History: []domain.Turn{domain.UserTurn("hi")},
		Intent:  store.String("transfer"),
	}); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/tab-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got struct {
		TabID  string              `json:"tab_id"`
		Active bool                `json:"active"`
		State  domain.SessionState `json:"state"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TabID != "tab-1" || got.Active || got.State.Intent != "transfer" || len(got.State.History) != 1 {
		t.Errorf("unexpected body %+v", got)
	}
}

func TestGetSessionRejectsBadTabID(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/bad%20id", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestDeleteSessionClears(t *testing.T) {
	r, st, sm := newTestRouter(t)
	if err := st.Save(context.Background(), "tab-1", store.Patch{Listening: store.Bool(true)}); err != nil {
		t.Fatal(err)
	}
	conn := &closeRecorder{}
	sm.Register("tab-1", conn)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/sessions/tab-1", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if !conn.closed || sm.IsActive("tab-1") {
		t.Error("live connection not closed")
	}
	loaded, err := st.Load(context.Background(), "tab-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Listening {
		t.Error("state not cleared")
	}
}

func TestGetConfig(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req.Header.Set(identity.TabHeaderName, "tab-9")
	r.ServeHTTP(w, req)

	var got struct {
		TabID    string `json:"tab_id"`
		Persona  string `json:"persona"`
		Personas []struct {
			ID string `json:"id"`
		} `json:"personas"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TabID != "tab-9" || got.Persona != "frank" || len(got.Personas) != 2 {
		t.Errorf("unexpected config %+v", got)
	}
}

type closeRecorder struct {
	closed bool
}

func (c *closeRecorder) Close(websocket.StatusCode, string) error {
	c.closed = true
	return nil
}

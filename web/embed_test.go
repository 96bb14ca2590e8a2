package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStaticHandlerServesRelay(t *testing.T) {
	w := httptest.NewRecorder()
	StaticHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/widget.js", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/ws/widget?") {
		t.Error("relay script missing socket path")
	}
}

func TestStaticHandlerFallsBackToDemo(t *testing.T) {
	w := httptest.NewRecorder()
	StaticHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/no/such/page", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "widget.js") {
		t.Error("fallback did not serve the demo page")
	}
}

func TestRelayStartsTurnsOnlyOnCommittedChanges(t *testing.T) {
	data, err := staticFS.ReadFile("static/widget.js")
	if err != nil {
		t.Fatal(err)
	}
	src := string(data)
	changeAt := strings.Index(src, `addEventListener("change"`)
	inputAt := strings.Index(src, `addEventListener("input"`)
	if changeAt < 0 || inputAt < 0 {
		t.Fatal("relay does not watch host form controls")
	}
	// The input listener must only refresh the snapshot.
	inputBody := src[inputAt:changeAt]
	if strings.Contains(inputBody, `"form_change"`) {
		t.Error("keystrokes must not send form_change")
	}
	if !strings.Contains(inputBody, `"form_snapshot"`) {
		t.Error("keystrokes should refresh the form snapshot")
	}
	if !strings.Contains(src[changeAt:], `"form_change"`) {
		t.Error("committed changes should send form_change")
	}
}

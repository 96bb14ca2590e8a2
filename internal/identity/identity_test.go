package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func serve(r *http.Request) (tabID string, minted bool, w *httptest.ResponseRecorder) {
	w = httptest.NewRecorder()
	Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		tabID = TabIDFromContext(r.Context())
		minted = MintedFromContext(r.Context())
	})).ServeHTTP(w, r)
	return tabID, minted, w
}

func TestMiddlewareUsesHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.Header.Set(TabHeaderName, "tab-abc")
	tabID, minted, w := serve(r)
	if tabID != "tab-abc" || minted {
		t.Errorf("expected header tab id, got %q minted=%v", tabID, minted)
	}
	if w.Header().Get(TabHeaderName) != "tab-abc" {
		t.Errorf("tab id not echoed")
	}
}

func TestMiddlewareUsesQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/widget?tab_id=tab-q&page=index.html", nil)
	if tabID, _, _ := serve(r); tabID != "tab-q" {
		t.Errorf("expected query tab id, got %q", tabID)
	}
}

func TestMiddlewareMintsUUID(t *testing.T) {
	for _, raw := range []string{"", "bad id with spaces", "../../etc"} {
		r := httptest.NewRequest(http.MethodGet, "/ws/widget", nil)
		if raw != "" {
			r.Header.Set(TabHeaderName, raw)
		}
		tabID, minted, _ := serve(r)
		if !minted {
			t.Errorf("%q: expected a minted id", raw)
		}
		if _, err := uuid.Parse(tabID); err != nil {
			t.Errorf("%q: minted id %q is not a uuid", raw, tabID)
		}
	}
}

func TestIPFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := IPFromRequest(r); got != "10.0.0.1" {
		t.Errorf("got %q", got)
	}
}

// Package identity derives the per-tab widget identity from a request.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// TabHeaderName carries the tab id on API requests and is echoed on responses.
	TabHeaderName = "X-Widget-Tab-ID"
	// TabQueryParam carries the tab id on the WebSocket upgrade.
	TabQueryParam = "tab_id"
)

type contextKey int

const (
	tabIDKey contextKey = iota
	mintedKey
)

var tabIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// TabIDFromContext extracts the tab id from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return ""
}

// MintedFromContext reports whether the tab id was generated for this request.
func MintedFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(mintedKey).(bool)
	return v
}

// WithTabID returns ctx carrying tabID.
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, tabIDKey, tabID)
}

// NewTabID mints a fresh tab id.
func NewTabID() string {
	return uuid.NewString()
}

// SanitizeTabID returns id if it is a well-formed tab id, or "".
func SanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if !tabIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func tabIDFromRequest(r *http.Request) string {
	id := r.Header.Get(TabHeaderName)
	if id == "" {
		id = r.URL.Query().Get(TabQueryParam)
	}
	return SanitizeTabID(id)
}

// Middleware injects the tab id into the request context, minting one when the
// client has none yet. The id is echoed in the response header.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tabID := tabIDFromRequest(r)
			minted := tabID == ""
			if minted {
				tabID = NewTabID()
			}
			w.Header().Set(TabHeaderName, tabID)

			ctx := WithTabID(r.Context(), tabID)
			ctx = context.WithValue(ctx, mintedKey, minted)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

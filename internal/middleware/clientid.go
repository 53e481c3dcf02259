package middleware

import (
	"context"
	"net/http"
	"strings"
)

type clientContextKey struct{}

// ClientIDHeader carries the caller's identity. Authentication proper lives
// upstream; this layer only needs a stable per-client key for quota and job
// listings.
const ClientIDHeader = "X-Client-ID"

// ClientID extracts the client identity header into the request context.
// Requests without it still pass through: handlers that need an identity
// reject them with a 400.
func ClientID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ClientIDHeader))
		if id != "" {
			r = r.WithContext(context.WithValue(r.Context(), clientContextKey{}, id))
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIDFromContext returns the client identity or "".
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientContextKey{}).(string); ok {
		return v
	}
	return ""
}

package handlers

import (
	"net/http"

	"server/internal/middleware"
)

// QuotaPeek returns the caller's quota snapshot without mutating it.
func (a *App) QuotaPeek(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromContext(r.Context())
	if clientID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "X-Client-ID header required")
		return
	}
	state, err := a.Quota.Peek(r.Context(), clientID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, state)
}

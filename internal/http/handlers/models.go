package handlers

import "net/http"

// Models lists the routing table: which patterns resolve to which adapter
// and protocol.
func (a *App) Models(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Providers.Routes()})
}

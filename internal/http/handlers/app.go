package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/orchestrate"
	"server/internal/provider"
	"server/internal/quota"
)

// App is the handler container holding every collaborator the HTTP surface
// needs.
type App struct {
	Config       *infra.Config
	Logger       infra.Logger
	Orchestrator *orchestrate.Orchestrator
	Providers    *provider.Registry
	Quota        *quota.Guard
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorEnvelope{Error: kind, Message: message})
}

// fail maps a taxonomy error onto the wire envelope. Internal invariant
// violations are logged and surfaced as a generic failure, never verbatim.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.ErrorKind(err)
	switch {
	case errors.Is(err, domain.ErrUnsupportedModel):
		a.error(w, http.StatusBadRequest, kind, err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.error(w, http.StatusTooManyRequests, kind, "generation quota exhausted")
	case errors.Is(err, domain.ErrJobNotFound):
		a.error(w, http.StatusNotFound, kind, "job not found")
	case errors.Is(err, domain.ErrSubmissionRejected), errors.Is(err, domain.ErrMalformedResult):
		a.error(w, http.StatusInternalServerError, kind, err.Error())
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

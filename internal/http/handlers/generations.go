package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/middleware"
)

type generateRequest struct {
	ModelID string         `json:"model_id"`
	Input   map[string]any `json:"input"`
}

type jobView struct {
	JobID       string                   `json:"job_id"`
	ModelID     string                   `json:"model_id"`
	State       domain.JobState          `json:"state"`
	SubmittedAt time.Time                `json:"submitted_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	Result      *domain.NormalizedResult `json:"result,omitempty"`
	Error       *errorEnvelope           `json:"error,omitempty"`
}

func viewOf(job *domain.Job) jobView {
	v := jobView{
		JobID:       job.ID,
		ModelID:     job.ModelID,
		State:       job.State,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.State == domain.JobStateSucceeded {
		v.Result = job.Result
	} else if job.State.Terminal() && job.ErrorKind != "" {
		v.Error = &errorEnvelope{Error: job.ErrorKind, Message: job.ErrorMessage}
	}
	return v
}

// GenerationsSubmit accepts a generation request and returns the job handle.
// Queue-and-poll jobs come back 202 in SUBMITTED; sync and one-shot jobs
// come back 200 already terminal.
func (a *App) GenerationsSubmit(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromContext(r.Context())
	if clientID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "X-Client-ID header required")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.ModelID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "model_id required")
		return
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	job, err := a.Orchestrator.Submit(r.Context(), domain.GenerationRequest{
		ModelID:  req.ModelID,
		Input:    req.Input,
		ClientID: clientID,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusAccepted
	if job.State.Terminal() {
		code = http.StatusOK
	}
	a.json(w, code, viewOf(job))
}

// GenerationsStatus returns the current job view, advancing the job by one
// poll when it is still running.
func (a *App) GenerationsStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Orchestrator.Poll(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, viewOf(job))
}

// GenerationsList returns the caller's jobs ordered by submission time.
func (a *App) GenerationsList(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromContext(r.Context())
	if clientID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "X-Client-ID header required")
		return
	}
	jobsList, err := a.Orchestrator.ListByClient(r.Context(), clientID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]jobView, 0, len(jobsList))
	for _, job := range jobsList {
		items = append(items, viewOf(job))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// GenerationsCancel drives a local cancellation; the provider is told
// best-effort.
func (a *App) GenerationsCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Orchestrator.Cancel(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, viewOf(job))
}

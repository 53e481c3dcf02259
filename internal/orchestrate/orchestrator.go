// Package orchestrate drives generation jobs across heterogeneous provider
// protocols behind one submit/poll surface. The registry's guarded
// transition is the only serialization point; no lock is ever held across a
// provider round trip.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/jobs"
	"server/internal/metrics"
	"server/internal/normalize"
	"server/internal/provider"
	"server/internal/quota"
)

// Orchestrator accepts generation requests, routes them to adapters, and
// owns the job lifecycle from PENDING to a terminal state.
type Orchestrator struct {
	providers *provider.Registry
	registry  jobs.Registry
	guard     *quota.Guard
	logger    infra.Logger
	maxAge    time.Duration
	now       func() time.Time
}

// New wires an orchestrator. maxAge bounds how long a job may stay
// non-terminal before the next poll or sweep times it out.
func New(providers *provider.Registry, registry jobs.Registry, guard *quota.Guard, logger infra.Logger, maxAge time.Duration) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		registry:  registry,
		guard:     guard,
		logger:    logger,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Submit validates routing and quota, creates the job, and drives the
// adapter's submission protocol. The returned job is SUBMITTED for
// queue-and-poll providers and already terminal for sync or one-shot
// providers. Submission-time failures never leave a non-terminal job behind.
func (o *Orchestrator) Submit(ctx context.Context, req domain.GenerationRequest) (*domain.Job, error) {
	adapter, err := o.providers.Resolve(req.ModelID)
	if err != nil {
		metrics.RoutingRejectionsTotal.Inc()
		return nil, err
	}

	allowed, err := o.guard.CheckAndReserve(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		metrics.QuotaRejectionsTotal.Inc()
		return nil, fmt.Errorf("%w: client %s", domain.ErrQuotaExceeded, req.ClientID)
	}

	job, err := o.registry.Create(ctx, req.ModelID, req.ClientID)
	if err != nil {
		return nil, err
	}
	metrics.SubmissionsTotal.WithLabelValues(req.ModelID).Inc()

	handle, err := adapter.Submit(ctx, req)
	if err != nil {
		failed := o.failJob(ctx, job.ID, []domain.JobState{domain.JobStatePending}, err)
		o.logger.Warn().Err(err).Str("job_id", job.ID).Str("model", req.ModelID).Msg("orchestrate: submission rejected")
		if failed != nil {
			return failed, err
		}
		return nil, err
	}

	job, err = o.registry.Transition(ctx, job.ID,
		[]domain.JobState{domain.JobStatePending}, domain.JobStateSubmitted,
		jobs.Patch{ProviderHandle: &handle})
	if err != nil {
		return nil, err
	}

	// Sync and one-shot handles are already resolved; finish inline so the
	// caller gets a terminal job in one round trip.
	if adapter.Descriptor().Protocol != provider.ProtocolQueueAndPoll {
		return o.pollOnce(ctx, adapter, job)
	}
	return job, nil
}

// Poll returns the current job view, advancing non-terminal jobs by one
// adapter status query. Terminal jobs are returned as-is: repeated polls are
// idempotent and issue no further adapter calls. Concurrent polls race on
// the registry's guard, so exactly one records the terminal transition.
func (o *Orchestrator) Poll(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		o.deliver(ctx, job)
		return job, nil
	}

	if o.maxAge > 0 && job.Age(o.now()) > o.maxAge {
		return o.timeOut(ctx, job)
	}

	adapter, err := o.providers.Resolve(job.ModelID)
	if err != nil {
		// Routing changed under a live job; fail it rather than strand it.
		if failed := o.failJob(ctx, job.ID, domain.NonTerminalStates, err); failed != nil {
			return failed, nil
		}
		return o.registry.Get(ctx, jobID)
	}
	return o.pollOnce(ctx, adapter, job)
}

// ListByClient exposes the registry's client view.
func (o *Orchestrator) ListByClient(ctx context.Context, clientID string) ([]*domain.Job, error) {
	return o.registry.ListByClient(ctx, clientID)
}

// Cancel drives a local terminal transition and tells the provider
// best-effort. The provider may keep running; the job is CANCELLED locally
// regardless of acknowledgment.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return job, nil
	}
	cancelled, err := o.registry.Transition(ctx, job.ID, domain.NonTerminalStates, domain.JobStateCancelled, jobs.Patch{})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return o.registry.Get(ctx, jobID)
		}
		return nil, err
	}
	metrics.JobOutcomesTotal.WithLabelValues(string(domain.JobStateCancelled)).Inc()
	if job.ProviderHandle != "" {
		if adapter, rerr := o.providers.Resolve(job.ModelID); rerr == nil {
			if cerr := adapter.Cancel(ctx, job.ProviderHandle); cerr != nil {
				o.logger.Debug().Err(cerr).Str("job_id", job.ID).Msg("orchestrate: provider cancel failed")
			}
		}
	}
	return cancelled, nil
}

// SweepTimeouts times out every non-terminal job older than maxAge and
// returns how many were transitioned. Intended to run on a ticker so stale
// jobs expire even when nobody polls them.
func (o *Orchestrator) SweepTimeouts(ctx context.Context) int {
	if o.maxAge <= 0 {
		return 0
	}
	stale, err := o.registry.ListStale(ctx, o.maxAge)
	if err != nil {
		o.logger.Error().Err(err).Msg("orchestrate: stale listing failed")
		return 0
	}
	swept := 0
	for _, job := range stale {
		if _, err := o.timeOut(ctx, job); err == nil {
			swept++
		}
	}
	return swept
}

// pollOnce issues a single adapter poll and maps the provider status onto a
// guarded transition. Transport errors leave the job untouched so the caller
// can simply poll again.
func (o *Orchestrator) pollOnce(ctx context.Context, adapter provider.Adapter, job *domain.Job) (*domain.Job, error) {
	status, err := adapter.Poll(ctx, job.ProviderHandle)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrate: poll failed, will retry")
		return job, nil
	}

	switch status.State {
	case provider.RunQueued:
		return job, nil
	case provider.RunInProgress:
		progressed, err := o.registry.Transition(ctx, job.ID,
			[]domain.JobState{domain.JobStateSubmitted}, domain.JobStateInProgress, jobs.Patch{})
		if err != nil {
			// Already IN_PROGRESS, or a racer finished it first.
			return o.registry.Get(ctx, job.ID)
		}
		return progressed, nil
	case provider.RunFailed:
		providerErr := fmt.Errorf("provider failure: %s", status.Message)
		if failed := o.failJob(ctx, job.ID, domain.NonTerminalStates, providerErr); failed != nil {
			return failed, nil
		}
		return o.registry.Get(ctx, job.ID)
	case provider.RunSucceeded:
		return o.finalize(ctx, job, status)
	default:
		return job, nil
	}
}

// finalize normalizes the payload, records SUCCEEDED, and consumes one quota
// unit only when this caller wins the terminal transition.
func (o *Orchestrator) finalize(ctx context.Context, job *domain.Job, status *provider.Status) (*domain.Job, error) {
	result, err := normalize.Result(job.ModelID, status.Payload)
	if err != nil {
		if failed := o.failJob(ctx, job.ID, domain.NonTerminalStates, err); failed != nil {
			return failed, err
		}
		return o.registry.Get(ctx, job.ID)
	}
	if len(status.Logs) > 0 {
		if result.ProviderMetadata == nil {
			result.ProviderMetadata = make(map[string]any)
		}
		result.ProviderMetadata["logs"] = status.Logs
	}

	succeeded, err := o.registry.Transition(ctx, job.ID,
		domain.NonTerminalStates, domain.JobStateSucceeded,
		jobs.Patch{Result: result})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Lost the race; the winner already consumed quota.
			return o.registry.Get(ctx, job.ID)
		}
		return nil, err
	}
	metrics.JobOutcomesTotal.WithLabelValues(string(domain.JobStateSucceeded)).Inc()
	if _, err := o.guard.Consume(ctx, job.ClientID); err != nil {
		o.logger.Error().Err(err).Str("client_id", job.ClientID).Msg("orchestrate: quota consume failed")
	}
	return succeeded, nil
}

func (o *Orchestrator) timeOut(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	kind := domain.ErrorKind(domain.ErrJobTimedOut)
	message := fmt.Sprintf("job exceeded max age %s", o.maxAge)
	timedOut, err := o.registry.Transition(ctx, job.ID,
		domain.NonTerminalStates, domain.JobStateTimedOut,
		jobs.Patch{ErrorKind: &kind, ErrorMessage: &message})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return o.registry.Get(ctx, job.ID)
		}
		return nil, err
	}
	metrics.JobOutcomesTotal.WithLabelValues(string(domain.JobStateTimedOut)).Inc()
	if job.ProviderHandle != "" {
		if adapter, rerr := o.providers.Resolve(job.ModelID); rerr == nil {
			if cerr := adapter.Cancel(ctx, job.ProviderHandle); cerr != nil {
				o.logger.Debug().Err(cerr).Str("job_id", job.ID).Msg("orchestrate: provider cancel failed")
			}
		}
	}
	o.logger.Info().Str("job_id", job.ID).Msg("orchestrate: job timed out")
	return timedOut, nil
}

func (o *Orchestrator) failJob(ctx context.Context, jobID string, from []domain.JobState, cause error) *domain.Job {
	kind := domain.ErrorKind(cause)
	message := cause.Error()
	failed, err := o.registry.Transition(ctx, jobID, from, domain.JobStateFailed,
		jobs.Patch{ErrorKind: &kind, ErrorMessage: &message})
	if err != nil {
		return nil
	}
	metrics.JobOutcomesTotal.WithLabelValues(string(domain.JobStateFailed)).Inc()
	return failed
}

func (o *Orchestrator) deliver(ctx context.Context, job *domain.Job) {
	if err := o.registry.MarkDelivered(ctx, job.ID); err != nil {
		o.logger.Debug().Err(err).Str("job_id", job.ID).Msg("orchestrate: mark delivered failed")
	}
}

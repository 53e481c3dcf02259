// Package jobs is the single source of truth for generation job existence
// and state. Every state change goes through Transition, a guarded
// from-set -> to swap, so illegal jumps surface as errors instead of silent
// overwrites.
package jobs

import (
	"context"
	"time"

	"server/internal/domain"
)

// Patch carries optional field updates applied atomically with a transition.
type Patch struct {
	ProviderHandle *string
	Result         *domain.NormalizedResult
	ErrorKind      *string
	ErrorMessage   *string
}

// Registry owns job records. Implementations must make Transition atomic per
// job with respect to concurrent callers; unrelated jobs never contend.
type Registry interface {
	// Create allocates a fresh job in PENDING state.
	Create(ctx context.Context, modelID, clientID string) (*domain.Job, error)
	// Get returns a copy of the job or domain.ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	// Transition moves the job to the target state only if its current state
	// is in from; otherwise it fails with domain.ErrInvalidTransition.
	Transition(ctx context.Context, jobID string, from []domain.JobState, to domain.JobState, patch Patch) (*domain.Job, error)
	// ListByClient returns the client's jobs ordered by submission time.
	ListByClient(ctx context.Context, clientID string) ([]*domain.Job, error)
	// MarkDelivered records that a terminal result reached a caller, making
	// the job eligible for retention eviction.
	MarkDelivered(ctx context.Context, jobID string) error
	// ListStale returns non-terminal jobs older than maxAge, for the
	// timeout sweep.
	ListStale(ctx context.Context, maxAge time.Duration) ([]*domain.Job, error)
	// EvictExpired removes delivered terminal jobs older than retention and
	// any terminal job older than 2x retention, returning the count removed.
	EvictExpired(ctx context.Context, retention time.Duration) (int, error)
}

func apply(job *domain.Job, patch Patch) {
	if patch.ProviderHandle != nil {
		job.ProviderHandle = *patch.ProviderHandle
	}
	if patch.Result != nil {
		job.Result = patch.Result
	}
	if patch.ErrorKind != nil {
		job.ErrorKind = *patch.ErrorKind
	}
	if patch.ErrorMessage != nil {
		job.ErrorMessage = *patch.ErrorMessage
	}
}

func stateIn(state domain.JobState, set []domain.JobState) bool {
	for _, s := range set {
		if s == state {
			return true
		}
	}
	return false
}

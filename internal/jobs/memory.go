package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

// MemoryRegistry keeps jobs in process memory. The registry mutex only
// guards the map; each entry carries its own lock so transitions on
// unrelated jobs never contend.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	mu  sync.Mutex
	job domain.Job
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Create implements Registry.
func (r *MemoryRegistry) Create(ctx context.Context, modelID, clientID string) (*domain.Job, error) {
	now := r.now()
	job := domain.Job{
		ID:          uuid.NewString(),
		ModelID:     modelID,
		ClientID:    clientID,
		State:       domain.JobStatePending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	r.mu.Lock()
	r.entries[job.ID] = &memoryEntry{job: job}
	r.mu.Unlock()
	snapshot := job
	return &snapshot, nil
}

// Get implements Registry.
func (r *MemoryRegistry) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	entry, err := r.entry(jobID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	snapshot := entry.job
	entry.mu.Unlock()
	return &snapshot, nil
}

// Transition implements Registry. The per-entry lock makes the check-and-swap
// atomic: of two racing callers exactly one observes the from-state.
func (r *MemoryRegistry) Transition(ctx context.Context, jobID string, from []domain.JobState, to domain.JobState, patch Patch) (*domain.Job, error) {
	entry, err := r.entry(jobID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	// Terminal states never exit, whatever from-set the caller names.
	if entry.job.State.Terminal() || !stateIn(entry.job.State, from) {
		return nil, fmt.Errorf("%w: %s -> %s (job %s)", domain.ErrInvalidTransition, entry.job.State, to, jobID)
	}
	entry.job.State = to
	entry.job.UpdatedAt = r.now()
	apply(&entry.job, patch)
	snapshot := entry.job
	return &snapshot, nil
}

// ListByClient implements Registry.
func (r *MemoryRegistry) ListByClient(ctx context.Context, clientID string) ([]*domain.Job, error) {
	r.mu.RLock()
	var out []*domain.Job
	for _, entry := range r.entries {
		entry.mu.Lock()
		if entry.job.ClientID == clientID {
			snapshot := entry.job
			out = append(out, &snapshot)
		}
		entry.mu.Unlock()
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

// MarkDelivered implements Registry.
func (r *MemoryRegistry) MarkDelivered(ctx context.Context, jobID string) error {
	entry, err := r.entry(jobID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	if entry.job.State.Terminal() {
		entry.job.Delivered = true
	}
	entry.mu.Unlock()
	return nil
}

// ListStale implements Registry.
func (r *MemoryRegistry) ListStale(ctx context.Context, maxAge time.Duration) ([]*domain.Job, error) {
	cutoff := r.now().Add(-maxAge)
	r.mu.RLock()
	var out []*domain.Job
	for _, entry := range r.entries {
		entry.mu.Lock()
		if !entry.job.State.Terminal() && entry.job.SubmittedAt.Before(cutoff) {
			snapshot := entry.job
			out = append(out, &snapshot)
		}
		entry.mu.Unlock()
	}
	r.mu.RUnlock()
	return out, nil
}

// EvictExpired implements Registry. Undelivered terminal jobs linger for a
// doubled window so a slow client can still fetch its result once.
func (r *MemoryRegistry) EvictExpired(ctx context.Context, retention time.Duration) (int, error) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, entry := range r.entries {
		entry.mu.Lock()
		terminal := entry.job.State.Terminal()
		age := now.Sub(entry.job.UpdatedAt)
		delivered := entry.job.Delivered
		entry.mu.Unlock()
		if !terminal {
			continue
		}
		if (delivered && age > retention) || age > 2*retention {
			delete(r.entries, id)
			evicted++
		}
	}
	return evicted, nil
}

func (r *MemoryRegistry) entry(jobID string) (*memoryEntry, error) {
	r.mu.RLock()
	entry, ok := r.entries[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return entry, nil
}

var _ Registry = (*MemoryRegistry)(nil)

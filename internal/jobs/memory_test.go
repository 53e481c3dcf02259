package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/domain"
)

func TestMemoryRegistryCreateAndGet(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	job, err := r.Create(ctx, "fal-ai/recraft-20b", "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatePending, job.State)

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "fal-ai/recraft-20b", got.ModelID)

	_, err = r.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemoryRegistryTransitionGuard(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	job, err := r.Create(ctx, "fal-ai/recraft-20b", "u1")
	require.NoError(t, err)

	handle := "ticket-1"
	job, err = r.Transition(ctx, job.ID, []domain.JobState{domain.JobStatePending}, domain.JobStateSubmitted, Patch{ProviderHandle: &handle})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSubmitted, job.State)
	assert.Equal(t, "ticket-1", job.ProviderHandle)

	// Pending is no longer the current state: the guard rejects the swap.
	_, err = r.Transition(ctx, job.ID, []domain.JobState{domain.JobStatePending}, domain.JobStateSubmitted, Patch{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	job, err = r.Transition(ctx, job.ID, domain.NonTerminalStates, domain.JobStateSucceeded, Patch{
		Result: &domain.NormalizedResult{Kind: domain.ResultKindImage},
	})
	require.NoError(t, err)
	require.True(t, job.State.Terminal())

	// Terminal states never exit, even with a from-set naming them.
	_, err = r.Transition(ctx, job.ID, domain.NonTerminalStates, domain.JobStateInProgress, Patch{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = r.Transition(ctx, job.ID, []domain.JobState{domain.JobStateSucceeded}, domain.JobStateFailed, Patch{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestMemoryRegistryConcurrentTransitionSingleWinner(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	job, err := r.Create(ctx, "fal-ai/recraft-20b", "u1")
	require.NoError(t, err)

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			_, err := r.Transition(ctx, job.ID, []domain.JobState{domain.JobStatePending}, domain.JobStateSubmitted, Patch{})
			if err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one racer records the transition")
}

func TestMemoryRegistryListByClientOrder(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	base := time.Now()
	ticks := 0
	r.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}

	first, err := r.Create(ctx, "fal-ai/a", "u1")
	require.NoError(t, err)
	second, err := r.Create(ctx, "fal-ai/b", "u1")
	require.NoError(t, err)
	_, err = r.Create(ctx, "fal-ai/c", "other")
	require.NoError(t, err)

	listed, err := r.ListByClient(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID)
	assert.Equal(t, second.ID, listed[1].ID)
}

func TestMemoryRegistryEviction(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	delivered, err := r.Create(ctx, "fal-ai/a", "u1")
	require.NoError(t, err)
	undelivered, err := r.Create(ctx, "fal-ai/b", "u1")
	require.NoError(t, err)
	running, err := r.Create(ctx, "fal-ai/c", "u1")
	require.NoError(t, err)

	for _, id := range []string{delivered.ID, undelivered.ID} {
		_, err = r.Transition(ctx, id, domain.NonTerminalStates, domain.JobStateFailed, Patch{})
		require.NoError(t, err)
	}
	require.NoError(t, r.MarkDelivered(ctx, delivered.ID))

	// Within the retention window nothing is evicted.
	n, err := r.EvictExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Past retention: the delivered job goes, the undelivered one lingers
	// until the doubled window.
	r.now = func() time.Time { return time.Now().Add(90 * time.Minute) }
	n, err = r.EvictExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = r.Get(ctx, delivered.ID)
	require.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = r.Get(ctx, undelivered.ID)
	require.NoError(t, err)

	// Past the doubled window everything terminal goes; running jobs stay.
	r.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	n, err = r.EvictExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = r.Get(ctx, running.ID)
	require.NoError(t, err)
}

func TestMemoryRegistryListStale(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	job, err := r.Create(ctx, "fal-ai/a", "u1")
	require.NoError(t, err)
	done, err := r.Create(ctx, "fal-ai/b", "u1")
	require.NoError(t, err)
	_, err = r.Transition(ctx, done.ID, domain.NonTerminalStates, domain.JobStateSucceeded, Patch{})
	require.NoError(t, err)

	stale, err := r.ListStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	stale, err = r.ListStale(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, job.ID, stale[0].ID)
}

// Package quota enforces the per-client cap on successful generations.
// Reservation never increments; Consume is called only after a job reaches
// SUCCEEDED, so failed or timed-out jobs never burn quota.
package quota

import (
	"context"
	"fmt"
	"sync"

	"server/internal/domain"
)

// Store is the persistence boundary keyed by client id. Implementations must
// keep increments monotonic; returning stale reads once is tolerated.
type Store interface {
	Used(ctx context.Context, clientID string) (int, error)
	Incr(ctx context.Context, clientID string) (int, error)
}

// Guard tracks per-client usage against a limit. Mutation per client id is
// serialized through a striped lock so concurrent completions for the same
// client cannot interleave a read-modify-write.
type Guard struct {
	store       Store
	limit       int
	resetPolicy string

	mu      sync.Mutex
	clients map[string]*sync.Mutex
}

// NewGuard creates a guard with the given free-tier limit.
func NewGuard(store Store, limit int) *Guard {
	return &Guard{
		store:       store,
		limit:       limit,
		resetPolicy: "manual",
		clients:     make(map[string]*sync.Mutex),
	}
}

// CheckAndReserve reports whether the client may submit. It does not
// increment: consumption is gated on job success.
func (g *Guard) CheckAndReserve(ctx context.Context, clientID string) (bool, error) {
	lock := g.clientLock(clientID)
	lock.Lock()
	defer lock.Unlock()
	used, err := g.store.Used(ctx, clientID)
	if err != nil {
		return false, fmt.Errorf("quota: read usage: %w", err)
	}
	return used < g.limit, nil
}

// Consume records one successful generation and returns the new count.
func (g *Guard) Consume(ctx context.Context, clientID string) (int, error) {
	lock := g.clientLock(clientID)
	lock.Lock()
	defer lock.Unlock()
	used, err := g.store.Incr(ctx, clientID)
	if err != nil {
		return 0, fmt.Errorf("quota: increment usage: %w", err)
	}
	return used, nil
}

// Peek returns the client's current quota snapshot.
func (g *Guard) Peek(ctx context.Context, clientID string) (domain.QuotaState, error) {
	used, err := g.store.Used(ctx, clientID)
	if err != nil {
		return domain.QuotaState{}, fmt.Errorf("quota: read usage: %w", err)
	}
	return domain.QuotaState{
		ClientID:    clientID,
		Used:        used,
		Limit:       g.limit,
		ResetPolicy: g.resetPolicy,
	}, nil
}

func (g *Guard) clientLock(clientID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.clients[clientID]
	if !ok {
		lock = &sync.Mutex{}
		g.clients[clientID] = lock
	}
	return lock
}

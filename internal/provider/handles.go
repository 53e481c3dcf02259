package provider

import (
	"fmt"
	"sync"
)

// ResolvedHandles stores already-terminal statuses for adapters whose Submit
// completes the whole round trip (SyncSubscribe, OneShot). Poll on such a
// handle replays the stored status without another provider call.
type ResolvedHandles struct {
	mu sync.RWMutex
	m  map[string]*Status
}

func NewResolvedHandles() *ResolvedHandles {
	return &ResolvedHandles{m: make(map[string]*Status)}
}

// Put records the terminal status under the handle.
func (h *ResolvedHandles) Put(handle string, st *Status) {
	h.mu.Lock()
	h.m[handle] = st
	h.mu.Unlock()
}

// Get returns the stored status or an error for an unknown handle.
func (h *ResolvedHandles) Get(handle string) (*Status, error) {
	h.mu.RLock()
	st, ok := h.m[handle]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider handle %q", handle)
	}
	return st, nil
}

package provider

import (
	"context"

	"server/internal/domain"
)

// Protocol identifies how an adapter's provider delivers results.
type Protocol string

const (
	// ProtocolSyncSubscribe providers block inside Submit until the job is
	// done; the returned handle is already resolved.
	ProtocolSyncSubscribe Protocol = "sync_subscribe"
	// ProtocolQueueAndPoll providers return a queue ticket from Submit and
	// report progress through repeated Poll calls.
	ProtocolQueueAndPoll Protocol = "queue_and_poll"
	// ProtocolOneShot providers complete the whole round trip inside Submit,
	// used for low-latency direct calls.
	ProtocolOneShot Protocol = "one_shot"
)

// Descriptor advertises what an adapter serves and how.
type Descriptor struct {
	Name     string
	Protocol Protocol
	// Models lists identifiers routed to this adapter. A trailing "/*"
	// marks a prefix pattern, e.g. "fal-ai/*".
	Models []string
}

// RunState is the provider-level view of a submitted request.
type RunState string

const (
	RunQueued     RunState = "QUEUED"
	RunInProgress RunState = "IN_PROGRESS"
	RunSucceeded  RunState = "SUCCEEDED"
	RunFailed     RunState = "FAILED"
)

// Terminal reports whether the provider run has finished.
func (s RunState) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// Status is one observation of a provider run. Payload carries the raw
// provider response on success, Message the provider's error text on
// failure. Logs carries provider-reported progress lines verbatim when
// the provider exposes them.
type Status struct {
	State   RunState
	Payload map[string]any
	Logs    []string
	Message string
}

// Adapter wraps one external generation provider behind a uniform contract.
// Submit fails with an error wrapping domain.ErrSubmissionRejected when the
// provider turns the request down synchronously. Poll is safe to call
// repeatedly and reports "still running" as a state, never as an error.
// Cancel is best-effort and may be ignored by the provider.
type Adapter interface {
	Descriptor() Descriptor
	Submit(ctx context.Context, req domain.GenerationRequest) (string, error)
	Poll(ctx context.Context, handle string) (*Status, error)
	Cancel(ctx context.Context, handle string) error
}

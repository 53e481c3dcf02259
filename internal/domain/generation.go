package domain

// GenerationRequest is the inbound contract for a generation submission.
// Immutable once submitted.
type GenerationRequest struct {
	ModelID  string
	Input    map[string]any
	ClientID string
}

// ResultKind classifies the output of a generation job.
type ResultKind string

const (
	ResultKindImage ResultKind = "image"
	ResultKindVideo ResultKind = "video"
	ResultKindAudio ResultKind = "audio"
	// ResultKindModel covers trained artifacts such as LoRA weight files.
	ResultKindModel ResultKind = "model"
)

// ResultAsset is one produced artifact referenced by URL.
type ResultAsset struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// NormalizedResult is the provider-agnostic envelope for a successful
// generation. Provider-reported extras (seed, logs, safety flags) travel in
// ProviderMetadata without reinterpretation.
type NormalizedResult struct {
	Kind             ResultKind     `json:"kind"`
	Assets           []ResultAsset  `json:"assets"`
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
}

// QuotaState is a read-only snapshot of one client's generation allowance.
type QuotaState struct {
	ClientID    string `json:"client_id"`
	Used        int    `json:"used"`
	Limit       int    `json:"limit"`
	ResetPolicy string `json:"reset_policy"`
}

// Remaining reports how many successful generations the client has left.
func (q QuotaState) Remaining() int {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// Package normalize maps provider-specific success payloads into the common
// result envelope. Output kind is classified from the model identifier, not
// from payload shape, which varies per provider.
package normalize

import (
	"fmt"
	"strings"

	"server/internal/domain"
)

// kindRules map model-id substrings to result kinds, checked in order.
// Anything unmatched is an image: the bulk of the catalogue.
var kindRules = []struct {
	token string
	kind  domain.ResultKind
}{
	{"lora", domain.ResultKindModel},
	{"train", domain.ResultKindModel},
	{"lipsync", domain.ResultKindVideo},
	{"sync-lips", domain.ResultKindVideo},
	{"video", domain.ResultKindVideo},
	{"veo", domain.ResultKindVideo},
	{"kling", domain.ResultKindVideo},
	{"audio", domain.ResultKindAudio},
	{"music", domain.ResultKindAudio},
	{"speech", domain.ResultKindAudio},
	{"tts", domain.ResultKindAudio},
}

// assetKeys lists payload fields that carry produced artifacts, checked in
// order. Providers use one of these regardless of protocol.
var assetKeys = []string{
	"images", "image",
	"videos", "video",
	"audio_file", "audio_url", "audio",
	"diffusers_lora_file", "lora_file", "model_file",
	"files", "output",
}

// KindForModel classifies a model identifier.
func KindForModel(modelID string) domain.ResultKind {
	lowered := strings.ToLower(modelID)
	for _, rule := range kindRules {
		if strings.Contains(lowered, rule.token) {
			return rule.kind
		}
	}
	return domain.ResultKindImage
}

// Result builds the normalized envelope from a raw provider payload. It
// fails with domain.ErrMalformedResult when no asset field is present in an
// otherwise successful response.
func Result(modelID string, payload map[string]any) (*domain.NormalizedResult, error) {
	kind := KindForModel(modelID)
	for _, key := range assetKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		assets := extractAssets(raw, kind)
		if len(assets) == 0 {
			continue
		}
		return &domain.NormalizedResult{
			Kind:             kind,
			Assets:           assets,
			ProviderMetadata: metadata(payload, key),
		}, nil
	}
	return nil, fmt.Errorf("%w: no asset field in payload for model %q", domain.ErrMalformedResult, modelID)
}

func extractAssets(raw any, kind domain.ResultKind) []domain.ResultAsset {
	switch v := raw.(type) {
	case []any:
		var out []domain.ResultAsset
		for _, item := range v {
			if asset, ok := singleAsset(item, kind); ok {
				out = append(out, asset)
			}
		}
		return out
	default:
		if asset, ok := singleAsset(raw, kind); ok {
			return []domain.ResultAsset{asset}
		}
		return nil
	}
}

func singleAsset(item any, kind domain.ResultKind) (domain.ResultAsset, bool) {
	switch v := item.(type) {
	case string:
		if v == "" {
			return domain.ResultAsset{}, false
		}
		return domain.ResultAsset{URL: v, ContentType: defaultContentType(kind)}, true
	case map[string]any:
		url, _ := v["url"].(string)
		if url == "" {
			return domain.ResultAsset{}, false
		}
		contentType, _ := v["content_type"].(string)
		if contentType == "" {
			contentType = defaultContentType(kind)
		}
		asset := domain.ResultAsset{URL: url, ContentType: contentType}
		if size, ok := v["file_size"].(float64); ok {
			asset.SizeBytes = int64(size)
		}
		return asset, true
	default:
		return domain.ResultAsset{}, false
	}
}

// metadata copies everything except the consumed asset field, preserving
// provider extras (seed, timings, safety flags) without reinterpretation.
func metadata(payload map[string]any, assetKey string) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == assetKey {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func defaultContentType(kind domain.ResultKind) string {
	switch kind {
	case domain.ResultKindVideo:
		return "video/mp4"
	case domain.ResultKindAudio:
		return "audio/mpeg"
	case domain.ResultKindModel:
		return "application/octet-stream"
	default:
		return "image/png"
	}
}

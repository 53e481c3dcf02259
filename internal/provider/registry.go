package provider

import (
	"fmt"
	"sort"
	"strings"

	"server/internal/domain"
)

// Registry routes model identifiers to adapters. Routing is exact match
// first, then longest matching prefix pattern. Resolution performs no I/O so
// unknown models are rejected before any provider is contacted.
type Registry struct {
	exact    map[string]Adapter
	prefixes []prefixRoute
}

type prefixRoute struct {
	prefix  string
	adapter Adapter
}

// ModelRoute describes one routing entry for introspection endpoints.
type ModelRoute struct {
	Pattern  string   `json:"pattern"`
	Adapter  string   `json:"adapter"`
	Protocol Protocol `json:"protocol"`
}

// NewRegistry builds a routing table from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{exact: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds every model pattern from the adapter's descriptor.
func (r *Registry) Register(a Adapter) {
	for _, pattern := range a.Descriptor().Models {
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
			r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix + "/", adapter: a})
			continue
		}
		r.exact[pattern] = a
	}
	// Longest prefix wins so "fal-ai/recraft/*" beats "fal-ai/*".
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
}

// Resolve returns the adapter serving modelID, or a wrapped
// domain.ErrUnsupportedModel when no route matches.
func (r *Registry) Resolve(modelID string) (Adapter, error) {
	if a, ok := r.exact[modelID]; ok {
		return a, nil
	}
	for _, route := range r.prefixes {
		if strings.HasPrefix(modelID, route.prefix) {
			return route.adapter, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedModel, modelID)
}

// Routes lists the routing table, exact entries first, for /v1/models.
func (r *Registry) Routes() []ModelRoute {
	out := make([]ModelRoute, 0, len(r.exact)+len(r.prefixes))
	exact := make([]string, 0, len(r.exact))
	for pattern := range r.exact {
		exact = append(exact, pattern)
	}
	sort.Strings(exact)
	for _, pattern := range exact {
		desc := r.exact[pattern].Descriptor()
		out = append(out, ModelRoute{Pattern: pattern, Adapter: desc.Name, Protocol: desc.Protocol})
	}
	for _, route := range r.prefixes {
		desc := route.adapter.Descriptor()
		out = append(out, ModelRoute{Pattern: route.prefix + "*", Adapter: desc.Name, Protocol: desc.Protocol})
	}
	return out
}

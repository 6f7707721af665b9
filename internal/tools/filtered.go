package tools

import (
	"context"
	"encoding/json"

	"cogrouter/internal/llm"
)

type filteredRegistry struct {
	base    Registry
	allowed map[string]struct{}
}

// NewFilteredRegistry wraps base, exposing only the tools named in allow
// (a specialist's AllowTools list) — used when a specialist's config scopes
// it to a subset of the shared tool registry.
func NewFilteredRegistry(base Registry, allow []string) Registry {
	set := make(map[string]struct{}, len(allow))
	for _, name := range allow {
		set[name] = struct{}{}
	}
	return &filteredRegistry{base: base, allowed: set}
}

func (r *filteredRegistry) Register(t Tool) { r.base.Register(t) }

func (r *filteredRegistry) Schemas() []llm.ToolSchema {
	all := r.base.Schemas()
	out := make([]llm.ToolSchema, 0, len(all))
	for _, s := range all {
		if _, ok := r.allowed[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *filteredRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	if _, ok := r.allowed[name]; !ok {
		return []byte(`{"error":"tool not allowed"}`), nil
	}
	return r.base.Dispatch(ctx, name, raw)
}

type providerKey struct{}

// WithProvider attaches the calling specialist's llm.Provider to ctx so a
// dispatched tool can, if it needs to, make follow-up model calls under
// the same provider (e.g. a summarization sub-step).
func WithProvider(ctx context.Context, p llm.Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// ProviderFromContext retrieves the provider attached by WithProvider, if any.
func ProviderFromContext(ctx context.Context) (llm.Provider, bool) {
	p, ok := ctx.Value(providerKey{}).(llm.Provider)
	return p, ok
}

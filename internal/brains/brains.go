// Package brains implements component M: nearest-neighbor selection over
// indexed stage descriptions, sitting on top of the teacher's specialist
// registry (internal/specialists). The scheduler's Conductor calls
// SelectSpecialists to pick the top-N specialist "brains" relevant to a
// query (spec.md §4.6); ContextFetcher calls SelectTools for the matching
// tool-discovery lookup that feeds the Tool Gate's approvedTools decision
// (spec.md §4.7.1). Both indexes live here because they're the same
// nearest-neighbor primitive (vectorindex.Index) applied to two different
// description corpora, built and refreshed together whenever the specialist
// or tool registries change.
package brains

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cogrouter/internal/llm"
	"cogrouter/internal/specialists"
	"cogrouter/internal/tools"
	"cogrouter/internal/vectorindex"
)

const (
	specialistDocPrefix = "specialist:"
	toolDocPrefix       = "tool:"
)

// Registry is the Brain Registry: the specialist catalog plus the two
// nearest-neighbor indexes (specialist descriptions, tool descriptions)
// built over it.
type Registry struct {
	Specialists *specialists.Registry
	Tools       tools.Registry
	Index       vectorindex.Index
	Embedder    vectorindex.Embedder

	mu      sync.RWMutex
	orderBy map[string]int
}

// New wires a Brain Registry around an already-built specialist registry,
// the shared tool registry, and the nearest-neighbor index both are
// indexed into. Callers typically follow this with IndexAll.
func New(specialistReg *specialists.Registry, toolReg tools.Registry, index vectorindex.Index, embedder vectorindex.Embedder) *Registry {
	return &Registry{
		Specialists: specialistReg,
		Tools:       toolReg,
		Index:       index,
		Embedder:    embedder,
		orderBy:     map[string]int{},
	}
}

// SetOrder records a specialist's configured tie-break order, used by
// SelectSpecialists to run matched specialists in ascending order.
func (r *Registry) SetOrder(name string, order int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orderBy[name] = order
}

func (r *Registry) orderOf(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderBy[name]
}

// IndexAll (re)builds both nearest-neighbor indexes from the current
// specialist and tool registries. Call after ReplaceFromConfigs or whenever
// the tool registry's Schemas() changes.
func (r *Registry) IndexAll(ctx context.Context) error {
	if err := r.indexSpecialists(ctx); err != nil {
		return err
	}
	return r.indexTools(ctx)
}

func (r *Registry) indexSpecialists(ctx context.Context) error {
	if r.Specialists == nil || r.Index == nil {
		return nil
	}
	var docs []vectorindex.Doc
	for _, name := range r.Specialists.Names() {
		agent, ok := r.Specialists.Get(name)
		if !ok {
			continue
		}
		text := strings.TrimSpace(agent.Name + ": " + agent.Description)
		vec, err := r.embed(ctx, text)
		if err != nil {
			return fmt.Errorf("brains: embed specialist %q: %w", name, err)
		}
		docs = append(docs, vectorindex.Doc{
			ID:       specialistDocPrefix + name,
			Text:     text,
			Vector:   vec,
			Metadata: map[string]string{"kind": "specialist", "name": name},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	return r.Index.Add(ctx, docs)
}

func (r *Registry) indexTools(ctx context.Context) error {
	if r.Tools == nil || r.Index == nil {
		return nil
	}
	var docs []vectorindex.Doc
	for _, s := range r.Tools.Schemas() {
		text := strings.TrimSpace(s.Name + ": " + s.Description)
		vec, err := r.embed(ctx, text)
		if err != nil {
			return fmt.Errorf("brains: embed tool %q: %w", s.Name, err)
		}
		docs = append(docs, vectorindex.Doc{
			ID:       toolDocPrefix + s.Name,
			Text:     text,
			Vector:   vec,
			Metadata: map[string]string{"kind": "tool", "name": s.Name},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	return r.Index.Add(ctx, docs)
}

func (r *Registry) embed(ctx context.Context, text string) ([]float32, error) {
	if r.Embedder == nil {
		return nil, nil
	}
	return r.Embedder.Embed(ctx, text)
}

// SelectedSpecialist is one nearest-neighbor hit resolved back to its Agent.
type SelectedSpecialist struct {
	Agent *specialists.Agent
	Score float64
	Order int
}

// SelectSpecialists runs the nearest-neighbor lookup over indexed specialist
// descriptions and returns the top topN, broken ascending by configured
// Order (spec.md §4.6: "Specialist stages run... in ascending order").
// A topN <= 0 defaults to 3, spec.md §6's default.
func (r *Registry) SelectSpecialists(ctx context.Context, query string, topN int) ([]SelectedSpecialist, error) {
	if topN <= 0 {
		topN = 3
	}
	if r.Index == nil || r.Specialists == nil {
		return nil, nil
	}
	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("brains: embed query: %w", err)
	}
	hits, err := r.Index.SimilaritySearch(ctx, vectorindex.Query{
		Text:   query,
		Vector: vec,
		TopK:   topN * 2, // over-fetch, then filter to kind=specialist
		Filter: map[string]string{"kind": "specialist"},
	})
	if err != nil {
		return nil, fmt.Errorf("brains: specialist search: %w", err)
	}

	var out []SelectedSpecialist
	for _, h := range hits {
		name := h.Metadata["name"]
		if name == "" {
			continue
		}
		agent, ok := r.Specialists.Get(name)
		if !ok {
			continue
		}
		out = append(out, SelectedSpecialist{Agent: agent, Score: h.Score, Order: r.orderOf(name)})
		if len(out) >= topN {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// SelectTools runs the nearest-neighbor lookup over indexed tool
// descriptions and returns the suggestedTools name list ContextFetcher
// hands to the Conductor for approval (spec.md §4.7.1). topK <= 0 defaults
// to 5.
func (r *Registry) SelectTools(ctx context.Context, query string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = 5
	}
	if r.Index == nil {
		return nil, nil
	}
	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("brains: embed query: %w", err)
	}
	hits, err := r.Index.SimilaritySearch(ctx, vectorindex.Query{
		Text:   query,
		Vector: vec,
		TopK:   topK * 2,
		Filter: map[string]string{"kind": "tool"},
	})
	if err != nil {
		return nil, fmt.Errorf("brains: tool search: %w", err)
	}
	names := make([]string, 0, topK)
	for _, h := range hits {
		name := h.Metadata["name"]
		if name == "" {
			continue
		}
		names = append(names, name)
		if len(names) >= topK {
			break
		}
	}
	return names, nil
}

// EnsureToolSchemas returns the ToolSchema list for the given names, in
// the order requested, skipping any name no longer registered. ContextGate
// stages use this to turn a name list back into the schemas a provider
// needs to see.
func (r *Registry) EnsureToolSchemas(names []string) []llm.ToolSchema {
	if r.Tools == nil {
		return nil
	}
	byName := make(map[string]llm.ToolSchema, len(names))
	for _, s := range r.Tools.Schemas() {
		byName[s.Name] = s
	}
	out := make([]llm.ToolSchema, 0, len(names))
	for _, n := range names {
		if s, ok := byName[n]; ok {
			out = append(out, s)
		}
	}
	return out
}

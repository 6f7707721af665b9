package brains

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"cogrouter/internal/config"
	"cogrouter/internal/persistence/databases"
	"cogrouter/internal/specialists"
	"cogrouter/internal/store"
	"cogrouter/internal/tools"
)

// hashEmbedder is a deterministic, collision-avoiding stand-in for a real
// embedding HTTP client: tests only need vectors where similar text lands
// close together, not real semantics.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 16)
	for i, r := range text {
		v[i%len(v)] += float32(r)
	}
	return v, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	specs := []config.SpecialistConfig{
		{Name: "weather-bot", Description: "answers weather and forecast questions", Model: "gpt-test", Order: 2},
		{Name: "coder", Description: "writes and explains code", Model: "gpt-test", Order: 1},
	}
	sreg := specialists.NewRegistry(config.LLMClientConfig{Provider: "openai"}, specs, &http.Client{}, tools.NewRegistry())

	index := store.NewVectorIndex(databases.NewMemoryVector())
	r := New(sreg, tools.NewRegistry(), index, hashEmbedder{})
	for _, sc := range specs {
		r.SetOrder(sc.Name, sc.Order)
	}
	if err := r.IndexAll(context.Background()); err != nil {
		t.Fatalf("IndexAll: %v", err)
	}
	return r
}

func TestSelectSpecialistsOrdersAscendingByOrder(t *testing.T) {
	r := newTestRegistry(t)
	got, err := r.SelectSpecialists(context.Background(), "weather and code questions", 2)
	if err != nil {
		t.Fatalf("SelectSpecialists: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 specialists, got %d", len(got))
	}
	if got[0].Agent.Name != "coder" || got[1].Agent.Name != "weather-bot" {
		t.Fatalf("expected coder before weather-bot by Order, got %q then %q", got[0].Agent.Name, got[1].Agent.Name)
	}
}

func TestSelectSpecialistsDefaultsTopNToThree(t *testing.T) {
	r := newTestRegistry(t)
	got, err := r.SelectSpecialists(context.Background(), "anything", 0)
	if err != nil {
		t.Fatalf("SelectSpecialists: %v", err)
	}
	if len(got) > 3 {
		t.Fatalf("expected at most 3 specialists, got %d", len(got))
	}
}

func TestSelectToolsAndEnsureSchemas(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(fakeTool{name: "get_weather", desc: "fetch current weather for a city"})
	reg.Register(fakeTool{name: "read_file", desc: "read a file from the project"})

	index := store.NewVectorIndex(databases.NewMemoryVector())
	r := New(nil, reg, index, hashEmbedder{})
	if err := r.IndexAll(context.Background()); err != nil {
		t.Fatalf("IndexAll: %v", err)
	}

	names, err := r.SelectTools(context.Background(), "what's the weather like", 1)
	if err != nil {
		t.Fatalf("SelectTools: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected 1 tool name, got %d (%v)", len(names), names)
	}

	schemas := r.EnsureToolSchemas(names)
	if len(schemas) != 1 || schemas[0].Name != names[0] {
		t.Fatalf("EnsureToolSchemas mismatch: %+v", schemas)
	}
}

type fakeTool struct {
	name string
	desc string
}

func (f fakeTool) Name() string { return f.name }
func (f fakeTool) JSONSchema() map[string]any {
	return map[string]any{"name": f.name, "description": f.desc, "parameters": map[string]any{"type": "object"}}
}
func (f fakeTool) Call(context.Context, json.RawMessage) (any, error) {
	return map[string]any{"ok": true}, nil
}

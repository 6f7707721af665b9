package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"cogrouter/internal/depgraph"
	"cogrouter/internal/retrieval/budget"
	"cogrouter/internal/retrieval/plan"
	"cogrouter/internal/vectorindex"
)

type fakeIndex struct {
	hits []vectorindex.Hit
}

func (f *fakeIndex) Add(ctx context.Context, docs []vectorindex.Doc) error    { return nil }
func (f *fakeIndex) Delete(ctx context.Context, ids []string) error          { return nil }
func (f *fakeIndex) SimilaritySearch(ctx context.Context, q vectorindex.Query) ([]vectorindex.Hit, error) {
	if q.TopK < len(f.hits) {
		return f.hits[:q.TopK], nil
	}
	return f.hits, nil
}

func TestRetrieveEmptyQueryReturnsEmptyContext(t *testing.T) {
	r := &Retriever{DefaultBudget: 1000}
	cc, err := r.Retrieve(context.Background(), "   ")
	require.NoError(t, err)
	require.Empty(t, cc.FileSummaries)
	require.Empty(t, cc.CodeChunks)
	require.NotNil(t, cc.RelevantFiles)
}

func TestRetrieveExpandsViaDependencyGraph(t *testing.T) {
	g := depgraph.Build([]depgraph.SourceFile{
		{Path: "Cache.src", Content: "import proj.Store\nfunc Get() { helper() }"},
		{Path: "Store.src", Content: "func helper() {}"},
	}, "proj")

	summaries := &fakeIndex{hits: []vectorindex.Hit{
		{ID: "s1", Text: "Cache overview", Metadata: map[string]string{"filename": "Cache.src"}},
	}}
	chunks := &fakeIndex{hits: []vectorindex.Hit{
		{ID: "c1", Text: "func Get() config service", Metadata: map[string]string{"filename": "Cache.src"}},
		{ID: "c2", Text: "func helper() config service", Metadata: map[string]string{"filename": "Store.src"}},
		{ID: "c3", Text: "unrelated chunk from elsewhere", Metadata: map[string]string{"filename": "Other.src"}},
	}}

	r := &Retriever{
		Summaries:     summaries,
		Chunks:        chunks,
		Graph:         g,
		DefaultBudget: 10000,
	}

	cc, err := r.Retrieve(context.Background(), "how does Cache work")
	require.NoError(t, err)
	require.Contains(t, cc.RelevantFiles, "Cache.src")
	require.Contains(t, cc.RelevantFiles, "Store.src")
	require.NotContains(t, cc.RelevantFiles, "Other.src")

	gotFiles := map[string]bool{}
	for _, h := range cc.CodeChunks {
		gotFiles[h.Metadata["filename"]] = true
	}
	require.True(t, gotFiles["Cache.src"] || gotFiles["Store.src"])
	require.False(t, gotFiles["Other.src"])
}

// TestExpandDropsLowScoringCandidatesPastFive builds a frontier whose BFS
// expansion yields more than 5 candidates at one hop, most of them scoring
// well under budget.DropLowScoringFiles's 0.3 cutoff, and checks they don't
// survive into the relevant set (spec.md §4.4's Expansion-step filtering).
func TestExpandDropsLowScoringCandidatesPastFive(t *testing.T) {
	g := depgraph.New()
	g.Forward["Entry1.src"] = map[string]struct{}{
		"CacheA.src": {}, "Other1.src": {}, "Other2.src": {}, "Other3.src": {},
	}
	g.Forward["Entry2.src"] = map[string]struct{}{
		"CacheB.src": {}, "Other4.src": {}, "Other5.src": {}, "Other6.src": {},
	}

	r := &Retriever{Graph: g}
	frontier := map[string]struct{}{"Entry1.src": {}, "Entry2.src": {}}
	p := plan.SearchPlan{OriginalQuery: "cache", MaxHops: 2}
	relevant := r.expand(frontier, p, budget.New(10000))

	require.Contains(t, relevant, "CacheA.src")
	require.Contains(t, relevant, "CacheB.src")
	for i := 1; i <= 6; i++ {
		require.NotContains(t, relevant, fmt.Sprintf("Other%d.src", i))
	}
}

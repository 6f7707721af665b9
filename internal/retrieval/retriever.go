// Package retrieval implements component J, the Code Retriever: the pipeline
// that turns a query into a CodeContext by combining the planner (H), the
// budget manager (I), the dependency graph (G), and the summary/chunk vector
// indexes (A), per spec.md §4.5. The parallel summary/chunk dispatch mirrors
// internal/rag/retrieve/candidates.go's fan-out-fan-in shape; the BFS
// expansion mirrors internal/rag/retrieve/graph_expand.go's frontier walk.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"cogrouter/internal/depgraph"
	"cogrouter/internal/retrieval/budget"
	"cogrouter/internal/retrieval/plan"
	"cogrouter/internal/vectorindex"
)

// CodeContext is spec.md §3's retrieval output handed to the scheduler's
// ContextFetcher stage.
type CodeContext struct {
	FileSummaries []vectorindex.Hit
	CodeChunks    []vectorindex.Hit
	RelevantFiles map[string]struct{}
	Query         string
	TokensUsed    int
	Strategy      plan.Strategy
	Confidence    float64
}

// Retriever wires the summary index, chunk index, and dependency graph
// together to serve spec.md §4.5's five-step pipeline.
type Retriever struct {
	Summaries        vectorindex.Index
	Chunks           vectorindex.Index
	Embedder         vectorindex.Embedder
	Graph            *depgraph.Graph
	DefaultBudget    int
	CoreFiles        map[string]struct{}
	KnownFiles       map[string]struct{}
	KnownIdentifiers map[string]struct{}
}

var strategyKeywords = map[plan.Strategy]string{
	plan.StrategySimilarity:     "",
	plan.StrategyEntityCentered: "class overview definition",
	plan.StrategyDependencyGraph: "architecture structure dependencies",
	plan.StrategyMethodFocused:  "method implementation function",
	plan.StrategyErrorTrace:     "error exception handling",
	plan.StrategyConfiguration:  "configuration settings setup",
}

// Retrieve runs the full pipeline for query and returns its CodeContext.
func (r *Retriever) Retrieve(ctx context.Context, query string) (CodeContext, error) {
	if strings.TrimSpace(query) == "" {
		return CodeContext{RelevantFiles: map[string]struct{}{}}, nil
	}

	// Step 1: plan + budget.
	p := plan.Build(query, r.DefaultBudget, r.KnownFiles, r.KnownIdentifiers)
	b := budget.New(p.TokenBudget)

	// Step 2: strategy dispatch against the summary index.
	summaryHits, err := r.dispatchSummaries(ctx, p)
	if err != nil {
		return CodeContext{}, err
	}

	// Step 3: BFS expansion over the dependency graph.
	frontier := map[string]struct{}{}
	for _, h := range summaryHits {
		if fn, ok := h.Metadata["filename"]; ok {
			frontier[fn] = struct{}{}
		}
	}
	for fn := range p.StartingFiles {
		frontier[fn] = struct{}{}
	}
	relevant := r.expand(frontier, p, b)

	// Step 4: chunk retrieval, filtered to the expanded file set and pruned.
	chunks, err := r.retrieveChunks(ctx, p, relevant, b)
	if err != nil {
		return CodeContext{}, err
	}

	return CodeContext{
		FileSummaries: summaryHits,
		CodeChunks:    chunks,
		RelevantFiles: relevant,
		Query:         query,
		TokensUsed:    b.Used,
		Strategy:      p.Strategy,
		Confidence:    p.Confidence,
	}, nil
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	if r.Embedder == nil {
		return nil, nil
	}
	return r.Embedder.Embed(ctx, text)
}

// dispatchSummaries implements spec.md §4.5 step 2. entity_centered queries
// per-target-entity first and only falls back to a plain similarity search
// if those returned nothing; every other strategy augments the query with
// its strategy keywords and issues one similarity search.
func (r *Retriever) dispatchSummaries(ctx context.Context, p plan.SearchPlan) ([]vectorindex.Hit, error) {
	if p.Strategy == plan.StrategyEntityCentered && len(p.TargetEntities) > 0 {
		var mu errgroup.Group
		results := make([][]vectorindex.Hit, 0, len(p.TargetEntities))
		resCh := make(chan []vectorindex.Hit, len(p.TargetEntities))
		for entity := range p.TargetEntities {
			entity := entity
			mu.Go(func() error {
				vec, err := r.embed(ctx, entity)
				if err != nil {
					return err
				}
				hits, err := r.Summaries.SimilaritySearch(ctx, vectorindex.Query{Text: entity, Vector: vec, TopK: 2})
				if err != nil {
					return err
				}
				resCh <- hits
				return nil
			})
		}
		if err := mu.Wait(); err != nil {
			return nil, err
		}
		close(resCh)
		for hits := range resCh {
			results = append(results, hits)
		}
		merged := dedupeHits(results...)
		if len(merged) > 0 {
			return merged, nil
		}
		// fall through to plain similarity search below
	}

	query := p.OriginalQuery
	if kw := strategyKeywords[p.Strategy]; kw != "" {
		query = query + " " + kw
	}
	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.Summaries.SimilaritySearch(ctx, vectorindex.Query{Text: query, Vector: vec, TopK: p.TopK})
}

func dedupeHits(groups ...[]vectorindex.Hit) []vectorindex.Hit {
	seen := map[string]struct{}{}
	out := make([]vectorindex.Hit, 0)
	for _, g := range groups {
		for _, h := range g {
			if _, ok := seen[h.ID]; ok {
				continue
			}
			seen[h.ID] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}

// expand implements spec.md §4.5 step 3: BFS over the dependency graph
// starting from frontier, up to p.MaxHops levels, adding up to K1 forward
// deps (and K2 reverse deps when p.IncludeReverseDeps) per file per level,
// tightened when the budget is near its limit.
func (r *Retriever) expand(frontier map[string]struct{}, p plan.SearchPlan, b *budget.Budget) map[string]struct{} {
	relevant := map[string]struct{}{}
	for fn := range frontier {
		relevant[fn] = struct{}{}
	}
	if r.Graph == nil {
		return relevant
	}

	k1, k2 := 4, 2
	if b.IsNearLimit() {
		k1, k2 = 2, 1
	}

	level := make([]string, 0, len(frontier))
	for fn := range frontier {
		level = append(level, fn)
	}
	sort.Strings(level)

	for hop := 0; hop < p.MaxHops && len(level) > 0; hop++ {
		if b.IsNearLimit() {
			break
		}
		next := make([]string, 0)
		for _, file := range level {
			fwd := topScored(r.Graph.ForwardDeps(file), p.OriginalQuery, r.CoreFiles, k1)
			for _, dep := range fwd {
				if _, ok := relevant[dep]; !ok {
					relevant[dep] = struct{}{}
					next = append(next, dep)
				}
			}
			if p.IncludeReverseDeps {
				rev := topScored(r.Graph.ReverseDeps(file), p.OriginalQuery, r.CoreFiles, k2)
				for _, dep := range rev {
					if _, ok := relevant[dep]; !ok {
						relevant[dep] = struct{}{}
						next = append(next, dep)
					}
				}
			}
		}

		// Apply spec.md §4.4's low-score drop rule to this hop's new
		// candidates before recursing, so a large, noisy frontier doesn't
		// carry irrelevant files into the next hop or the final chunk filter.
		if scores := fileScores(next, p.OriginalQuery, r.CoreFiles); len(scores) > 5 {
			kept := budget.DropLowScoringFiles(scores)
			filtered := next[:0]
			for _, fn := range next {
				if _, ok := kept[fn]; ok {
					filtered = append(filtered, fn)
				} else {
					delete(relevant, fn)
				}
			}
			next = filtered
		}

		sort.Strings(next)
		level = next
	}
	return relevant
}

func fileScores(files []string, query string, coreFiles map[string]struct{}) map[string]float64 {
	scores := make(map[string]float64, len(files))
	for _, f := range files {
		scores[f] = budget.FileScore(query, f, coreFiles)
	}
	return scores
}

// topScored ranks candidate filenames by budget.FileScore against query and
// returns the top n, score-descending, stable on ties (spec.md §4.5's
// ordering guarantee).
func topScored(candidates []string, query string, coreFiles map[string]struct{}, n int) []string {
	type scored struct {
		name  string
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{c, budget.FileScore(query, c, coreFiles)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].name
	}
	return out
}

// retrieveChunks implements spec.md §4.5 step 4: enhanced-query chunk
// search, filtered to the expanded file set, pruned under the budget.
func (r *Retriever) retrieveChunks(ctx context.Context, p plan.SearchPlan, relevant map[string]struct{}, b *budget.Budget) ([]vectorindex.Hit, error) {
	enhanced := p.OriginalQuery
	if kw := strategyKeywords[p.Strategy]; kw != "" {
		enhanced = enhanced + " " + kw
	}
	for e := range p.TargetEntities {
		enhanced = enhanced + " " + e
	}

	topK := p.TopK
	if b.IsNearLimit() {
		topK -= 2
		if topK < 3 {
			topK = 3
		}
	}

	vec, err := r.embed(ctx, enhanced)
	if err != nil {
		return nil, err
	}
	hits, err := r.Chunks.SimilaritySearch(ctx, vectorindex.Query{Text: enhanced, Vector: vec, TopK: topK})
	if err != nil {
		return nil, err
	}

	filtered := make([]budget.Scored[vectorindex.Hit], 0, len(hits))
	for _, h := range hits {
		fn, ok := h.Metadata["filename"]
		if !ok {
			continue
		}
		if _, ok := relevant[fn]; !ok {
			continue
		}
		filtered = append(filtered, budget.Scored[vectorindex.Hit]{
			Item:  h,
			Score: budget.ContentScore(p.OriginalQuery, h.Text),
			Text:  h.Text,
		})
	}
	return budget.Prune(b, filtered), nil
}

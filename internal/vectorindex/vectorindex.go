// Package vectorindex defines component A, the abstract vector index: a
// nearest-neighbor lookup over {embedding, text, metadata} documents. The
// concrete backends live in internal/store; this package only carries the
// shape every stage (indexer, retriever, brain registry, tool gate) depends
// on, kept deliberately small so the engine never couples to one backend.
package vectorindex

import "context"

// Doc is a single indexed document: an embedded text plus free-form metadata.
type Doc struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]string
}

// Hit is a single similarity-search result, text included so the retriever
// never has to fetch content in a second round trip.
type Hit struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]string
}

// Query parameterizes a similarity search.
type Query struct {
	Text   string
	Vector []float32
	TopK   int
	Filter map[string]string
}

// Index is the nearest-neighbor contract every brain-registry, tool, chunk,
// and summary lookup goes through. Add must be idempotent: re-adding a
// document under the same ID updates it in place rather than duplicating it.
type Index interface {
	Add(ctx context.Context, docs []Doc) error
	Delete(ctx context.Context, ids []string) error
	SimilaritySearch(ctx context.Context, q Query) ([]Hit, error)
}

// Embedder turns text into a vector. Kept separate from Index so a caller
// that already holds vectors (e.g. a cached embedding) can skip it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

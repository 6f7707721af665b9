// Package store resolves the abstract vectorindex.Index interface to a
// concrete backend (in-memory, Postgres/pgvector, or Qdrant), reusing the
// teacher's internal/persistence/databases package for the actual storage
// engines rather than reimplementing vector math and pooling.
package store

import (
	"context"

	"cogrouter/internal/persistence/databases"
	"cogrouter/internal/vectorindex"
)

// textMetadataKey stores a document's text alongside its vector, since
// databases.VectorStore only carries {vector, metadata}. Reserved so regular
// metadata never collides with it.
const textMetadataKey = "__text"

// VectorIndex adapts a databases.VectorStore into vectorindex.Index.
type VectorIndex struct {
	backend databases.VectorStore
}

// NewVectorIndex wraps an already-constructed databases.VectorStore.
func NewVectorIndex(backend databases.VectorStore) *VectorIndex {
	return &VectorIndex{backend: backend}
}

func (v *VectorIndex) Add(ctx context.Context, docs []vectorindex.Doc) error {
	for _, d := range docs {
		md := make(map[string]string, len(d.Metadata)+1)
		for k, val := range d.Metadata {
			md[k] = val
		}
		md[textMetadataKey] = d.Text
		if err := v.backend.Upsert(ctx, d.ID, d.Vector, md); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorIndex) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := v.backend.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorIndex) SimilaritySearch(ctx context.Context, q vectorindex.Query) ([]vectorindex.Hit, error) {
	filter := make(map[string]string, len(q.Filter))
	for k, val := range q.Filter {
		filter[k] = val
	}
	results, err := v.backend.SimilaritySearch(ctx, q.Vector, q.TopK, filter)
	if err != nil {
		return nil, err
	}
	hits := make([]vectorindex.Hit, 0, len(results))
	for _, r := range results {
		text := r.Metadata[textMetadataKey]
		md := make(map[string]string, len(r.Metadata))
		for k, val := range r.Metadata {
			if k == textMetadataKey {
				continue
			}
			md[k] = val
		}
		hits = append(hits, vectorindex.Hit{ID: r.ID, Text: text, Score: r.Score, Metadata: md})
	}
	return hits, nil
}

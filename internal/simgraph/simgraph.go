// Package simgraph implements component E, the Incremental Graph
// Calculator: a similarity graph over chunks, recomputed only for changed
// nodes, with edges kept where Jaccard token overlap exceeds 0.5.
package simgraph

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
)

// NodeType mirrors spec.md §3's SimilarityGraph node type.
type NodeType string

const (
	NodeClassOverview NodeType = "class_overview"
	NodeMethod        NodeType = "method_implementation"
	NodeFileSummary   NodeType = "file-summary"
)

// Node is one similarity-graph vertex.
type Node struct {
	ID      string
	Content string
	Type    NodeType
}

// Edge is an undirected, weighted similarity edge between two node IDs.
type Edge struct {
	Src, Dst string
	Weight   float64
}

const similarityThreshold = 0.5

// Graph is the process-wide similarity index, guarded by a mutex so
// concurrent incremental updates from different changed nodes don't race
// (spec.md §5's entry-level-atomicity discipline).
type Graph struct {
	mu         sync.RWMutex
	nodes      map[string]Node
	contentMD5 map[string]string
	edges      map[string]map[string]float64 // edges[a][b] = weight, stored both directions
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[string]Node),
		contentMD5: make(map[string]string),
		edges:      make(map[string]map[string]float64),
	}
}

func contentHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func tokenSet(content string) map[string]struct{} {
	toks := strings.Fields(strings.ToLower(content))
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Update recomputes edges for the given changed nodes only. Nodes whose
// content hash is unchanged since the last Update reuse their cached edges
// (spec.md §4.1's graph-calculator rule); this call still upserts the node
// record so a brand-new node gets its edges computed against all others.
func (g *Graph) Update(changed []Node) {
	g.mu.Lock()
	defer g.mu.Unlock()

	toRecompute := make([]Node, 0, len(changed))
	for _, n := range changed {
		h := contentHash(n.Content)
		if prev, ok := g.contentMD5[n.ID]; ok && prev == h {
			continue // unchanged, cached edges remain valid
		}
		g.contentMD5[n.ID] = h
		g.nodes[n.ID] = n
		toRecompute = append(toRecompute, n)
	}

	for _, n := range toRecompute {
		// Drop this node's stale edges before recomputing.
		for other := range g.edges[n.ID] {
			delete(g.edges[other], n.ID)
		}
		delete(g.edges, n.ID)

		set := tokenSet(n.Content)
		for otherID, other := range g.nodes {
			if otherID == n.ID {
				continue
			}
			w := jaccard(set, tokenSet(other.Content))
			if w > similarityThreshold {
				g.setEdge(n.ID, otherID, w)
			}
		}
	}
}

func (g *Graph) setEdge(a, b string, w float64) {
	if g.edges[a] == nil {
		g.edges[a] = make(map[string]float64)
	}
	if g.edges[b] == nil {
		g.edges[b] = make(map[string]float64)
	}
	g.edges[a][b] = w
	g.edges[b][a] = w
}

// Neighbors returns node id's similarity-graph neighbors with weights.
func (g *Graph) Neighbors(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, 0, len(g.edges[id]))
	for other, w := range g.edges[id] {
		out = append(out, Edge{Src: id, Dst: other, Weight: w})
	}
	return out
}

// Remove deletes a node and its edges, used when the indexer tombstones a
// chunk belonging to a deleted file.
func (g *Graph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for other := range g.edges[id] {
		delete(g.edges[other], id)
	}
	delete(g.edges, id)
	delete(g.nodes, id)
	delete(g.contentMD5, id)
}

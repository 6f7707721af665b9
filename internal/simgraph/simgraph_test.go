package simgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateEdgeThreshold(t *testing.T) {
	g := New()
	g.Update([]Node{
		{ID: "a", Content: "alpha beta gamma delta"},
		{ID: "b", Content: "alpha beta gamma epsilon"},
		{ID: "c", Content: "completely unrelated zeta"},
	})

	neighborsA := g.Neighbors("a")
	require.Len(t, neighborsA, 1)
	require.Equal(t, "b", neighborsA[0].Dst)
	require.Greater(t, neighborsA[0].Weight, 0.5)

	require.Empty(t, g.Neighbors("c"))
}

func TestUpdateSkipsUnchangedContent(t *testing.T) {
	g := New()
	g.Update([]Node{{ID: "a", Content: "x y z"}})
	g.Update([]Node{{ID: "a", Content: "x y z"}, {ID: "b", Content: "x y z w"}})
	// b should have formed an edge to a even though a's content hash was
	// unchanged (a's edges still get extended because the graph comparison
	// is symmetric via b's recomputation).
	require.NotEmpty(t, g.Neighbors("b"))
}

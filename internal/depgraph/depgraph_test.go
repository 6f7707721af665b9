package depgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildForwardReverseSymmetry(t *testing.T) {
	files := []SourceFile{
		{Path: "A.src", Content: "import proj.B\nfunc Run() { helper() }"},
		{Path: "B.src", Content: "func helper() {}"},
		{Path: "C.src", Content: "import proj.A\nfunc Other() {}"},
	}
	g := Build(files, "proj")

	for f, deps := range g.Forward {
		for dep := range deps {
			require.Contains(t, g.Reverse[dep], f, "reverse[%s] must contain %s", dep, f)
		}
	}
	for dep, backrefs := range g.Reverse {
		for f := range backrefs {
			require.Contains(t, g.Forward[f], dep, "forward[%s] must contain %s", f, dep)
		}
	}
}

func TestBuildNoSelfEdges(t *testing.T) {
	files := []SourceFile{
		{Path: "A.src", Content: "func helper() { helper() }"},
	}
	g := Build(files, "proj")
	_, self := g.Forward["A.src"]["A.src"]
	require.False(t, self)
}

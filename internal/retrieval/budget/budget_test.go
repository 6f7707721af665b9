package budget

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateTokensCeilDiv4(t *testing.T) {
	require.Equal(t, 0, EstimateTokens(""))
	require.Equal(t, 1, EstimateTokens("abc"))
	require.Equal(t, 1, EstimateTokens("abcd"))
	require.Equal(t, 2, EstimateTokens("abcde"))
	require.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestIsNearLimitThreshold(t *testing.T) {
	b := New(100)
	b.Used = 80
	require.False(t, b.IsNearLimit(), "exactly 80%% is not near-limit")
	b.Used = 81
	require.True(t, b.IsNearLimit())
}

func TestPruneGreedyRespectsBudget(t *testing.T) {
	b := New(5) // 5 tokens total
	items := []Scored[string]{
		{Item: "low", Score: 0.1, Text: "abcd"},       // 1 token
		{Item: "high", Score: 0.9, Text: "abcdefgh"},  // 2 tokens
		{Item: "mid", Score: 0.5, Text: "abcdefghijkl"}, // 3 tokens
	}
	out := Prune(b, items)
	// highest score admitted first (2 tokens used), then mid (3 tokens -> 5 total fits),
	// then low would need 1 more token but budget is exhausted.
	require.Equal(t, []string{"high", "mid"}, out)
	require.Equal(t, 5, b.Used)
}

func TestDropLowScoringFilesOnlyWhenLarge(t *testing.T) {
	small := map[string]float64{"a.go": 0.1, "b.go": 0.2}
	require.Equal(t, small, DropLowScoringFiles(small))

	large := map[string]float64{
		"a.go": 0.1, "b.go": 0.2, "c.go": 0.5, "d.go": 0.6, "e.go": 0.9, "f.go": 0.05,
	}
	out := DropLowScoringFiles(large)
	require.NotContains(t, out, "a.go")
	require.NotContains(t, out, "b.go")
	require.NotContains(t, out, "f.go")
	require.Contains(t, out, "c.go")
	require.Contains(t, out, "d.go")
	require.Contains(t, out, "e.go")
}

func TestContentScoreClampAndPenalty(t *testing.T) {
	short := ContentScore("config service", "this is a service and config file with @service marker")
	require.LessOrEqual(t, short, 1.0)
	require.Greater(t, short, 0.0)

	long := ContentScore("config service", "this is a service and config file with @service marker"+string(make([]byte, 5001)))
	require.Less(t, long, short)
}

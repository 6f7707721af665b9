package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cogrouter/internal/scratchpad"
)

func TestMergeTopThreeByQuality(t *testing.T) {
	outputs := []scratchpad.StageOutput{
		{StageName: "a", Text: "low", Quality: 0.1},
		{StageName: "b", Text: "high", Quality: 0.9},
		{StageName: "c", Text: "mid", Quality: 0.5},
		{StageName: "d", Text: "mid2", Quality: 0.6},
	}
	merged, avg := Merge(outputs)
	require.Equal(t, "high\n\nmid2\n\nmid", merged)
	require.InDelta(t, (0.9+0.6+0.5)/3, avg, 1e-9)
}

func TestConsistencyFlagsDissimilarPairs(t *testing.T) {
	outputs := []scratchpad.StageOutput{
		{Text: "the cache uses an lru policy"},
		{Text: "the cache uses an lru policy exactly"},
		{Text: "completely unrelated text about weather"},
	}
	report := Consistency(outputs)
	require.NotEmpty(t, report.FlaggedPairs)
	require.Greater(t, report.MeanSimilarity, 0.0)
}

func TestShouldReevaluateGate(t *testing.T) {
	require.True(t, ShouldReevaluate(0.5, 0))
	require.False(t, ShouldReevaluate(0.9, 0))
	require.False(t, ShouldReevaluate(0.5, 3))
}

func TestConsistencyAccumulatesAcrossRecordCalls(t *testing.T) {
	s := New()
	require.Equal(t, 1.0, s.Consistency("conv1").MeanSimilarity, "no recorded outputs yet")

	s.Record("conv1", []scratchpad.StageOutput{
		{Text: "the cache uses an lru policy"},
		{Text: "completely unrelated text about weather"},
	})
	report := s.Consistency("conv1")
	require.NotEmpty(t, report.FlaggedPairs)

	s.Record("conv1", []scratchpad.StageOutput{{Text: "the cache uses an lru policy exactly"}})
	afterSecondTurn := s.Consistency("conv1")
	require.Greater(t, afterSecondTurn.MeanSimilarity, 0.0)

	require.Equal(t, 1.0, s.Consistency("conv2").MeanSimilarity, "other conversations stay isolated")
}

func TestRecordCycleIncrements(t *testing.T) {
	s := New()
	require.Equal(t, 1, s.RecordCycle("conv1"))
	require.Equal(t, 2, s.RecordCycle("conv1"))
	require.Equal(t, 2, s.Cycles("conv1"))
}

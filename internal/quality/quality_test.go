package quality

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckConsistencyFlagsUnbalancedBraces(t *testing.T) {
	r := CheckConsistency("here is some code: func main() { fmt.Println(\"hi\" }")
	require.Contains(t, r.Issues, "unbalanced braces/parens/brackets in code block")
}

func TestCheckConsistencyBalancedBracesClean(t *testing.T) {
	r := CheckConsistency("func main() { fmt.Println(\"hi\") }")
	require.NotContains(t, r.Issues, "unbalanced braces/parens/brackets in code block")
}

func TestCheckConsistencyFlagsAlwaysNeverProximity(t *testing.T) {
	r := CheckConsistency("it always succeeds but it never fails either")
	require.Contains(t, r.Issues, "always/never proximity conflict")
}

func TestCheckHallucinationTrustedWhenClean(t *testing.T) {
	r := CheckHallucination("the cache uses an LRU eviction policy", nil, nil)
	require.True(t, r.Trusted)
	require.Less(t, r.Score, 0.3)
}

func TestCheckHallucinationTripsOnHighSeverityPhrases(t *testing.T) {
	r := CheckHallucination("this is guaranteed to work and everyone knows it", nil, nil)
	require.False(t, r.Trusted)
	require.GreaterOrEqual(t, r.Score, 0.5)
}

func TestCheckHallucinationDetectsFactNegation(t *testing.T) {
	r := CheckHallucination("the system does not use a cache at all", []string{"use a cache"}, map[string]Severity{})
	require.False(t, r.Trusted)
	require.Contains(t, r.Issues[0], "contradicts known fact")
}

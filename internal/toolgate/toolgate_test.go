package toolgate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApproveEnforcesSubsetOfSuggested(t *testing.T) {
	approved := Approve([]string{"weather", "datetime"}, []string{"weather", "calendar"})
	require.Contains(t, approved, "weather")
	require.NotContains(t, approved, "calendar")
}

func TestValidateWeatherFixupExtractsCity(t *testing.T) {
	inv := Invocation{Name: "get_weather", Args: map[string]string{}}
	out, err := Validate(inv, "what's the weather in Chicago today")
	require.NoError(t, err)
	require.Equal(t, "Chicago", out.Args["city"])
}

func TestValidateDatetimeFixupExtractsRelativeDate(t *testing.T) {
	inv := Invocation{Name: "get_datetime", Args: map[string]string{}}
	out, err := Validate(inv, "remind me tomorrow about the deploy")
	require.NoError(t, err)
	require.Equal(t, "tomorrow", out.Args["date"])
}

func TestValidateDropsEmptyArgsAndAppliesDefault(t *testing.T) {
	inv := Invocation{Name: "get_weather", Args: map[string]string{"city": "   "}}
	out, err := Validate(inv, "how's it looking outside")
	require.NoError(t, err)
	require.Equal(t, "San Francisco", out.Args["city"])
}

func TestValidateNonFamilyToolPassesThrough(t *testing.T) {
	inv := Invocation{Name: "search_docs", Args: map[string]string{"query": "foo"}}
	out, err := Validate(inv, "search for foo")
	require.NoError(t, err)
	require.Equal(t, "foo", out.Args["query"])
}

package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendCapsAtTwentyExchanges(t *testing.T) {
	s := NewConversationStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		s.Append("sess1", "user1", Exchange{
			UserQuery:  "plain question",
			AIResponse: "plain answer",
			Confidence: 0.1,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
	}
	sess := s.sessions["sess1"]
	require.Len(t, sess.Exchanges, maxExchangesPerSession)
}

func TestPromotionRequiresConfidenceAndTopic(t *testing.T) {
	s := NewConversationStore()
	now := time.Now()

	s.Append("sess1", "user1", Exchange{UserQuery: "explain the architecture here", Confidence: 0.9, Timestamp: now})
	require.Len(t, s.longTerm, 1)

	s.Append("sess1", "user1", Exchange{UserQuery: "what's the weather", Confidence: 0.95, Timestamp: now})
	require.Len(t, s.longTerm, 1, "high confidence without a topic word must not promote")

	s.Append("sess1", "user1", Exchange{UserQuery: "explain the design pattern used", Confidence: 0.5, Timestamp: now})
	require.Len(t, s.longTerm, 1, "topic word without sufficient confidence must not promote")
}

func TestRetrieveRecentRelatedAndLongTerm(t *testing.T) {
	s := NewConversationStore()
	now := time.Now()

	s.Append("sess1", "user1", Exchange{UserQuery: "explain the cache architecture", AIResponse: "a1", Confidence: 0.9, Timestamp: now})
	s.Append("sess1", "user1", Exchange{UserQuery: "explain the cache architecture in detail", AIResponse: "a2", Confidence: 0.2, Timestamp: now})
	s.Append("sess1", "user1", Exchange{UserQuery: "unrelated topic entirely", AIResponse: "a3", Confidence: 0.2, Timestamp: now})

	r := s.Retrieve("sess1", "explain the cache architecture")
	require.Len(t, r.Recent, 3)
	require.NotEmpty(t, r.Related)
	require.NotEmpty(t, r.LongTerm)
	require.LessOrEqual(t, len(r.LongTerm), 2)
}

func TestEvictIdleSweepsStaleSessions(t *testing.T) {
	s := NewConversationStore()
	old := time.Now().Add(-48 * time.Hour)
	s.Append("stale", "user1", Exchange{UserQuery: "q", Confidence: 0.1, Timestamp: old})

	evicted := s.EvictIdle(time.Now())
	require.Equal(t, 1, evicted)
	require.NotContains(t, s.sessions, "stale")
}

package memory

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	maxExchangesPerSession = 20
	maxLongTerm            = 100
	promoteConfidence      = 0.8
	idleEvictAfter         = 24 * time.Hour
)

var topicWords = []string{"architecture", "design", "pattern", "implementation", "error", "bug"}

// Exchange is one turn of a conversation, per spec.md §4.10.
type Exchange struct {
	UserQuery  string
	AIResponse string
	Strategy   string
	Confidence float64
	Timestamp  time.Time
}

// LongTermMemory is an Exchange promoted out of a session's rolling log,
// carrying the session it came from and its computed importance.
type LongTermMemory struct {
	Exchange
	SessionID  string
	Importance float64
}

// ConversationSession is a per-session bounded exchange log (spec.md §3).
type ConversationSession struct {
	SessionID    string
	UserID       string
	StartTime    time.Time
	LastActivity time.Time
	Exchanges    []Exchange
}

// ConversationStore holds all active sessions plus the shared long-term
// promoted-memory store, guarded by a single mutex (exchange volume is low
// enough that per-session locking isn't warranted, matching the teacher's
// single-engine-mutex style for its own in-memory registries).
type ConversationStore struct {
	mu        sync.Mutex
	sessions  map[string]*ConversationSession
	longTerm  []LongTermMemory
}

// NewConversationStore returns an empty ConversationStore.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{sessions: make(map[string]*ConversationSession)}
}

// Append records an exchange under sessionID, creating the session if
// necessary, dropping the oldest exchange once the cap is reached, and
// promoting to long-term storage when the promotion rule matches.
func (s *ConversationStore) Append(sessionID, userID string, ex Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &ConversationSession{SessionID: sessionID, UserID: userID, StartTime: ex.Timestamp}
		s.sessions[sessionID] = sess
	}
	sess.LastActivity = ex.Timestamp
	sess.Exchanges = append(sess.Exchanges, ex)
	if len(sess.Exchanges) > maxExchangesPerSession {
		sess.Exchanges = sess.Exchanges[len(sess.Exchanges)-maxExchangesPerSession:]
	}

	if shouldPromote(ex) {
		s.promoteLocked(sessionID, ex)
	}
}

func shouldPromote(ex Exchange) bool {
	if ex.Confidence <= promoteConfidence {
		return false
	}
	return containsTopic(ex.UserQuery)
}

func containsTopic(query string) bool {
	lower := strings.ToLower(query)
	for _, w := range topicWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// importance implements spec.md §4.10's ascending-eviction-order score:
// confidence*50 plus a bonus per matched topic word, capped at 100.
func importance(ex Exchange) float64 {
	score := ex.Confidence * 50
	lower := strings.ToLower(ex.UserQuery)
	for _, w := range topicWords {
		if strings.Contains(lower, w) {
			score += 10
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

// promoteLocked must be called with s.mu held.
func (s *ConversationStore) promoteLocked(sessionID string, ex Exchange) {
	ltm := LongTermMemory{Exchange: ex, SessionID: sessionID, Importance: importance(ex)}
	s.longTerm = append(s.longTerm, ltm)
	if len(s.longTerm) <= maxLongTerm {
		return
	}
	sort.Slice(s.longTerm, func(i, j int) bool { return s.longTerm[i].Importance < s.longTerm[j].Importance })
	s.longTerm = s.longTerm[len(s.longTerm)-maxLongTerm:]
}

// Retrieval bundles spec.md §4.10's three-part memory retrieval result.
type Retrieval struct {
	Recent    []Exchange
	Related   []Exchange
	LongTerm  []LongTermMemory
}

// Retrieve returns the last 5 exchanges of sessionID, same-session
// exchanges whose query is Jaccard > 0.6 similar to query, and the top 2
// long-term memories (by importance) with Jaccard > 0.5 similarity.
func (s *ConversationStore) Retrieve(sessionID, query string) Retrieval {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Retrieval
	sess, ok := s.sessions[sessionID]
	if ok {
		n := len(sess.Exchanges)
		start := n - 5
		if start < 0 {
			start = 0
		}
		out.Recent = append([]Exchange(nil), sess.Exchanges[start:]...)

		qTokens := tokenSet(query)
		for _, ex := range sess.Exchanges {
			if jaccard(qTokens, tokenSet(ex.UserQuery)) > 0.6 {
				out.Related = append(out.Related, ex)
			}
		}
	}

	qTokens := tokenSet(query)
	candidates := make([]LongTermMemory, 0)
	for _, ltm := range s.longTerm {
		if jaccard(qTokens, tokenSet(ltm.UserQuery)) > 0.5 {
			candidates = append(candidates, ltm)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Importance > candidates[j].Importance })
	if len(candidates) > 2 {
		candidates = candidates[:2]
	}
	out.LongTerm = candidates
	return out
}

// EvictIdle drops sessions whose LastActivity is more than 24h before now,
// per spec.md §4.10's periodic-sweep cleanup rule.
func (s *ConversationStore) EvictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > idleEvictAfter {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
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

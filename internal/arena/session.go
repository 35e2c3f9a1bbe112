package arena

import (
	"sync"
	"time"

	"github.com/model-arena/model-arena/pkg/models"
)

// Session is one caller's arena conversation. Sessions are ephemeral and
// partitioned by id: each has its own mutex, and no operation ever holds
// two sessions' locks.
type Session struct {
	mu sync.Mutex

	id        string
	state     models.SessionState
	turn      int
	votes     int
	createdAt time.Time
	lastUsed  time.Time

	// cursor walks the candidate pool for round-robin pairing
	cursor int

	// pair holds the requested model ids of the active turn, in selection
	// order (before label shuffling)
	pair [2]string

	// lastPair is the previous turn's pair, excluded from re-selection
	// while the pool is large enough to offer an alternative
	lastPair [2]string

	// modelByLabel maps the anonymized labels of the pending turn back to
	// true model ids. Populated only in awaiting_vote.
	modelByLabel map[string]string

	// votedTurn is the last turn a vote was accepted for, to reject
	// duplicates after the state returned to idle
	votedTurn int

	pendingSince time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:        id,
		state:     models.SessionIdle,
		createdAt: now,
		lastUsed:  now,
	}
}

// View returns the API snapshot. Model identities never appear here: while
// a vote is pending the pair is anonymized, and after the reveal the
// identities were already delivered in the vote reply.
func (s *Session) View() models.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	return models.SessionView{
		ID:         s.id,
		State:      s.state,
		Turn:       s.turn,
		CreatedAt:  s.createdAt,
		LastActive: s.lastUsed,
		Votes:      s.votes,
	}
}

// samePair compares pairs ignoring order
func samePair(a, b [2]string) bool {
	return (a[0] == b[0] && a[1] == b[1]) || (a[0] == b[1] && a[1] == b[0])
}

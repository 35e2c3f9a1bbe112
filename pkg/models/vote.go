package models

import (
	"fmt"
	"time"
)

// Outcome is the voter's verdict on an anonymized pair
type Outcome string

const (
	OutcomeAWins   Outcome = "a_wins"
	OutcomeBWins   Outcome = "b_wins"
	OutcomeTie     Outcome = "tie"
	OutcomeBothBad Outcome = "both_bad" // recorded for audit, no rating delta
)

// ValidOutcome reports whether s is a recognized vote outcome
func ValidOutcome(s string) bool {
	switch Outcome(s) {
	case OutcomeAWins, OutcomeBWins, OutcomeTie, OutcomeBothBad:
		return true
	}
	return false
}

// VoteRecord is the durable audit entry for one accepted vote.
// ModelA and ModelB are the true identities behind the shuffled labels.
type VoteRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	ModelA    string    `json:"model_a"`
	ModelB    string    `json:"model_b"`
	Outcome   Outcome   `json:"outcome"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks a record before it is committed
func (v *VoteRecord) Validate() error {
	if v.SessionID == "" {
		return fmt.Errorf("vote record missing session id")
	}
	if v.ModelA == "" || v.ModelB == "" {
		return fmt.Errorf("vote record missing model ids")
	}
	if v.ModelA == v.ModelB {
		return fmt.Errorf("vote record pairs model %q with itself", v.ModelA)
	}
	if !ValidOutcome(string(v.Outcome)) {
		return fmt.Errorf("invalid outcome %q", v.Outcome)
	}
	return nil
}

// Rating is one model's current standing on the leaderboard
type Rating struct {
	ModelID   string    `json:"model_id"`
	Score     float64   `json:"score"`
	Games     int       `json:"games"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Ties      int       `json:"ties"`
	BothBad   int       `json:"both_bad"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InitialScore is the rating assigned to a model on its first vote
const InitialScore = 1500.0

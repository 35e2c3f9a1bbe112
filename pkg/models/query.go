package models

import "time"

// DispatchPath tells the caller which pipeline served a query
type DispatchPath string

const (
	PathArena DispatchPath = "arena" // paired, anonymized, vote-eligible
	PathTool  DispatchPath = "tool"  // external provider passthrough, never voted
)

// QueryRequest submits one user query. SessionID is caller-supplied and
// optional; the server generates one for a fresh conversation.
type QueryRequest struct {
	SessionID string `json:"session_id,omitempty" binding:"omitempty,max=64"`
	Prompt    string `json:"prompt" binding:"required,min=1,max=8192"`
}

// AnonymousResponse is one side of an arena pair as shown to the voter.
// Note carries only a generic availability remark, never the model identity.
type AnonymousResponse struct {
	Label    string `json:"label"` // "A" or "B"
	Text     string `json:"text"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Note     string `json:"note,omitempty"`
}

// ToolResponse is the single answer returned on the tool path
type ToolResponse struct {
	Text    string `json:"text"`
	Backend string `json:"backend"`
}

// QueryResponse is the reply to POST /api/v1/queries
type QueryResponse struct {
	Path      DispatchPath        `json:"path"`
	SessionID string              `json:"session_id"`
	Turn      int                 `json:"turn,omitempty"`
	Responses []AnonymousResponse `json:"responses,omitempty"`
	Response  *ToolResponse       `json:"response,omitempty"`
}

// VoteRequest casts the verdict for the session's pending pair
type VoteRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=a_wins b_wins tie both_bad"`
}

// RevealedPair maps the anonymized labels back to true model identities
type RevealedPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// VoteResponse confirms an accepted vote and reveals the pair
type VoteResponse struct {
	SessionID string       `json:"session_id"`
	Turn      int          `json:"turn"`
	Outcome   Outcome      `json:"outcome"`
	Revealed  RevealedPair `json:"revealed"`
}

// SessionState is the arena session's position in its turn cycle
type SessionState string

const (
	SessionIdle              SessionState = "idle"               // no pending pair
	SessionAwaitingResponses SessionState = "awaiting_responses" // generation calls in flight
	SessionAwaitingVote      SessionState = "awaiting_vote"      // pair returned, vote outstanding
)

// SessionView is the API snapshot of an arena session. While a vote is
// pending the pair stays anonymized, so model identities never appear here.
type SessionView struct {
	ID         string       `json:"id"`
	State      SessionState `json:"state"`
	Turn       int          `json:"turn"`
	CreatedAt  time.Time    `json:"created_at"`
	LastActive time.Time    `json:"last_active"`
	Votes      int          `json:"votes"`
}

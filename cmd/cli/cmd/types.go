package cmd

// CLI-side mirrors of the API responses.
// Note: We use string for timestamps because the CLI receives JSON and
// displays them directly. The server's models use time.Time which
// serializes to RFC3339 strings.

// Backend is one catalog entry with live health
type Backend struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Tier              string   `json:"tier"`
	Endpoint          string   `json:"endpoint"`
	Tags              []string `json:"tags,omitempty"`
	FallbackID        string   `json:"fallback,omitempty"`
	MaxRequestsPerSec float64  `json:"max_requests_per_sec,omitempty"`
}

// BackendStatus wraps a backend with its probe state
type BackendStatus struct {
	Backend     Backend `json:"backend"`
	Health      string  `json:"health"`
	ConsecFails int     `json:"consecutive_failures"`
	LastProbe   string  `json:"last_probe,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
}

// Rating is one leaderboard row
type Rating struct {
	ModelID string  `json:"model_id"`
	Score   float64 `json:"score"`
	Games   int     `json:"games"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	Ties    int     `json:"ties"`
	BothBad int     `json:"both_bad"`
}

// SlotInfo is one scheduler slot
type SlotInfo struct {
	Index    int    `json:"index"`
	ModelID  string `json:"model_id,omitempty"`
	LastUsed string `json:"last_used,omitempty"`
	RefCount int    `json:"ref_count"`
}

// SchedulerStatus is the scheduler snapshot
type SchedulerStatus struct {
	SlotCount int        `json:"slot_count"`
	Slots     []SlotInfo `json:"slots"`
	Waiters   int        `json:"waiters"`
	Swaps     uint64     `json:"swaps"`
	Evictions uint64     `json:"evictions"`
}

// AnonymousResponse is one side of an arena pair
type AnonymousResponse struct {
	Label    string `json:"label"`
	Text     string `json:"text"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Note     string `json:"note,omitempty"`
}

// ToolResponse is the single reply on the tool path
type ToolResponse struct {
	Text    string `json:"text"`
	Backend string `json:"backend"`
}

// QueryResponse is the reply to a submitted query
type QueryResponse struct {
	Path      string              `json:"path"`
	SessionID string              `json:"session_id"`
	Turn      int                 `json:"turn,omitempty"`
	Responses []AnonymousResponse `json:"responses,omitempty"`
	Response  *ToolResponse       `json:"response,omitempty"`
}

// VoteReply confirms a vote and reveals the pair
type VoteReply struct {
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	Outcome   string `json:"outcome"`
	Revealed  struct {
		A string `json:"a"`
		B string `json:"b"`
	} `json:"revealed"`
}

// SessionView is the session snapshot
type SessionView struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Turn       int    `json:"turn"`
	CreatedAt  string `json:"created_at"`
	LastActive string `json:"last_active"`
	Votes      int    `json:"votes"`
}

package mockbackend

import (
	"fmt"
	"sync"
	"time"
)

// State holds the mutable behavior of a mock inference backend. Tests flip
// the toggles to simulate slow, failing, or hung backends.
type State struct {
	mu sync.Mutex

	modelID string

	// reply overrides the default echo response when non-empty
	reply string

	// latency is added to every chat completion
	latency time.Duration

	// failChat makes completions return failStatus
	failChat   bool
	failStatus int

	// failHealth makes the model listing probe return 500
	failHealth bool

	// hang makes completions block until the client gives up
	hang bool

	// Request counters
	chatRequests   int
	healthRequests int

	// lastPrompt remembers the most recent completion prompt
	lastPrompt string
}

// NewState creates mock state for one named model
func NewState(modelID string) *State {
	return &State{
		modelID:    modelID,
		failStatus: 500,
	}
}

// Reset restores default behavior and clears counters
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reply = ""
	s.latency = 0
	s.failChat = false
	s.failStatus = 500
	s.failHealth = false
	s.hang = false
	s.chatRequests = 0
	s.healthRequests = 0
	s.lastPrompt = ""
}

// ModelID returns the model name this backend advertises
func (s *State) ModelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelID
}

// SetReply sets a fixed completion text
func (s *State) SetReply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = text
}

// SetLatency adds artificial delay to completions
func (s *State) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetFailChat makes completions fail with the given status (0 keeps 500)
func (s *State) SetFailChat(fail bool, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChat = fail
	if status > 0 {
		s.failStatus = status
	}
}

// SetFailHealth makes the liveness probe fail
func (s *State) SetFailHealth(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHealth = fail
}

// SetHang makes completions block until the request context expires
func (s *State) SetHang(hang bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hang = hang
}

// recordChat bumps the counter and snapshots current behavior
func (s *State) recordChat(prompt string) (reply string, latency time.Duration, failStatus int, hang bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chatRequests++
	s.lastPrompt = prompt

	reply = s.reply
	if reply == "" {
		reply = fmt.Sprintf("%s says: %s", s.modelID, prompt)
	}
	latency = s.latency
	if s.failChat {
		failStatus = s.failStatus
	}
	hang = s.hang
	return
}

// recordHealth bumps the probe counter and reports whether to fail
func (s *State) recordHealth() (fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.healthRequests++
	return s.failHealth
}

// Stats is a snapshot of the request counters
type Stats struct {
	ChatRequests   int    `json:"chat_requests"`
	HealthRequests int    `json:"health_requests"`
	LastPrompt     string `json:"last_prompt,omitempty"`
}

// Stats returns the current counters
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ChatRequests:   s.chatRequests,
		HealthRequests: s.healthRequests,
		LastPrompt:     s.lastPrompt,
	}
}

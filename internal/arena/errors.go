package arena

import "errors"

// Errors surfaced by the session manager
var (
	// ErrSessionNotFound means the session id is unknown or expired
	ErrSessionNotFound = errors.New("session not found")

	// ErrVotePending rejects a new turn while the current pair awaits a vote
	ErrVotePending = errors.New("vote pending for current pair")

	// ErrTurnInProgress rejects a turn while generation is still running
	ErrTurnInProgress = errors.New("turn already in progress")

	// ErrDuplicateVote rejects a second vote for an already-voted pair
	ErrDuplicateVote = errors.New("vote already recorded for this pair")

	// ErrNoPendingVote rejects a vote when no pair awaits one
	ErrNoPendingVote = errors.New("no pair awaiting a vote")

	// ErrNoBackendsAvailable means fewer than two candidates could be
	// resolved for pairing. Surfaced as "no model currently available".
	ErrNoBackendsAvailable = errors.New("no model currently available")
)

package models

import "time"

// Tier identifies the hardware class a backend runs on
type Tier string

const (
	TierGPU Tier = "gpu" // GPU-hosted model, competes for swap slots
	TierCPU Tier = "cpu" // CPU-hosted model, always resident
)

// HealthState represents the current probe-derived state of a backend
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"     // Serving, eligible for pairing
	HealthDegraded    HealthState = "degraded"    // Recent probe failures, avoid if possible
	HealthUnreachable HealthState = "unreachable" // Consecutive failures exceeded threshold
)

// Capability tags understood by the router and the pairing pool
const (
	TagChat          = "chat"           // Eligible for arena pairing
	TagSupportsTools = "supports-tools" // Can execute tool invocations
)

// Backend describes a single inference backend in the catalog.
// The catalog is static configuration; only health changes at runtime.
type Backend struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Tier     Tier     `json:"tier"`
	Endpoint string   `json:"endpoint"`
	Tags     []string `json:"tags,omitempty"`

	// FallbackID names the CPU-tier equivalent used when this backend
	// cannot serve. Empty means no substitute exists.
	FallbackID string `json:"fallback_id,omitempty"`

	// MaxRequestsPerSec caps outbound generation calls (0 = unlimited).
	MaxRequestsPerSec float64 `json:"max_requests_per_sec,omitempty"`
}

// HasTag reports whether the backend carries the given capability tag
func (b *Backend) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ArenaEligible reports whether the backend can be paired for comparison
func (b *Backend) ArenaEligible() bool {
	return b.HasTag(TagChat)
}

// BackendStatus is the registry's live view of a backend
type BackendStatus struct {
	Backend      Backend     `json:"backend"`
	Health       HealthState `json:"health"`
	ConsecFails  int         `json:"consecutive_failures"`
	LastProbe    time.Time   `json:"last_probe,omitempty"`
	LastHealthy  time.Time   `json:"last_healthy,omitempty"`
	LastError    string      `json:"last_error,omitempty"`
}

// SlotInfo is a point-in-time snapshot of one scheduler slot
type SlotInfo struct {
	Index    int       `json:"index"`
	ModelID  string    `json:"model_id,omitempty"` // empty when the slot is free
	LoadedAt time.Time `json:"loaded_at,omitempty"`
	LastUsed time.Time `json:"last_used,omitempty"`
	RefCount int       `json:"ref_count"`
}

// SchedulerStatus summarizes slot occupancy for operators
type SchedulerStatus struct {
	SlotCount int        `json:"slot_count"`
	Slots     []SlotInfo `json:"slots"`
	Waiters   int        `json:"waiters"`
	Swaps     uint64     `json:"swaps"`
	Evictions uint64     `json:"evictions"`
}

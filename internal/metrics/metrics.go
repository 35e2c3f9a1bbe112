package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP request metrics for API server
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets, // Default: .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Backend health metrics
var (
	// BackendHealth tracks the probe-derived state of each backend
	// (0=healthy, 1=degraded, 2=unreachable)
	BackendHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_backend_health",
			Help: "Current backend health state (0=healthy, 1=degraded, 2=unreachable)",
		},
		[]string{"backend", "tier"},
	)

	// ProbeFailures counts failed liveness probes by backend
	ProbeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_probe_failures_total",
			Help: "Total number of failed liveness probes by backend",
		},
		[]string{"backend"},
	)

	// HealthTransitions counts health state transitions by backend and new state
	HealthTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_health_transitions_total",
			Help: "Total number of health state transitions by backend and new state",
		},
		[]string{"backend", "state"},
	)

	// ProbeCycleDuration tracks how long a full probe cycle takes
	ProbeCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arena_probe_cycle_duration_seconds",
			Help:    "Duration of a full backend probe cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// GPU slot scheduler metrics
var (
	// SlotsOccupied tracks the number of slots holding a loaded model
	SlotsOccupied = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_slots_occupied",
			Help: "Number of GPU slots currently holding a loaded model",
		},
	)

	// SlotWaiters tracks callers blocked waiting for slot capacity
	SlotWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_slot_waiters",
			Help: "Number of callers blocked waiting for a GPU slot",
		},
	)

	// SlotSwaps counts model loads into slots
	SlotSwaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_slot_swaps_total",
			Help: "Total number of model loads into GPU slots",
		},
	)

	// SlotEvictions counts LRU evictions
	SlotEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_slot_evictions_total",
			Help: "Total number of slot evictions by evicted model",
		},
		[]string{"model"},
	)

	// SlotAcquireTimeouts counts acquires that hit their deadline
	SlotAcquireTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_slot_acquire_timeouts_total",
			Help: "Total number of slot acquisitions that timed out",
		},
	)

	// SlotAcquireDuration tracks time from acquire call to slot grant
	SlotAcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "arena_slot_acquire_duration_seconds",
			Help: "Duration of slot acquisition by result (hit, load, evict, wait)",
			// Buckets: 100us, 1ms, 10ms, 100ms, 500ms, 1s, 2s, 5s, 10s
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"result"},
	)
)

// Generation and fallback metrics
var (
	// GenerationDuration tracks generation call latency by backend and outcome
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arena_generation_duration_seconds",
			Help:    "Duration of generation calls by backend and outcome",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
		},
		[]string{"backend", "outcome"},
	)

	// GenerationErrors counts failed generation calls by backend and kind
	GenerationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_generation_errors_total",
			Help: "Total number of failed generation calls by backend and error kind",
		},
		[]string{"backend", "kind"},
	)

	// Fallbacks counts degraded-fallback substitutions by requested model and reason
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_fallbacks_total",
			Help: "Total number of degraded-fallback substitutions by requested model and reason",
		},
		[]string{"requested", "reason"},
	)

	// ResolveFailures counts resolutions that found no usable backend
	ResolveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_resolve_failures_total",
			Help: "Total number of resolutions with no usable backend, by requested model",
		},
		[]string{"requested"},
	)
)

// Arena session and vote metrics
var (
	// SessionsActive tracks live arena sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_sessions_active",
			Help: "Number of live arena sessions",
		},
	)

	// TurnsTotal counts completed arena turns
	TurnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_turns_total",
			Help: "Total number of completed arena turns",
		},
	)

	// TurnTimeouts counts pair sides that timed out during generation
	TurnTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_turn_timeouts_total",
			Help: "Total number of pair sides that timed out during generation",
		},
	)

	// VotesTotal counts accepted votes by outcome
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_votes_total",
			Help: "Total number of accepted votes by outcome",
		},
		[]string{"outcome"},
	)

	// DuplicateVotes counts rejected duplicate votes
	DuplicateVotes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_duplicate_votes_total",
			Help: "Total number of votes rejected because the pair was already voted",
		},
	)

	// SessionsExpired counts sessions reclaimed by TTL expiry
	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_sessions_expired_total",
			Help: "Total number of arena sessions reclaimed by TTL expiry",
		},
	)
)

// Rating and routing metrics
var (
	// RatingApplies counts applied rating updates
	RatingApplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_rating_applies_total",
			Help: "Total number of vote records applied to the rating store",
		},
	)

	// RatingApplyRetries counts retried rating applies
	RatingApplyRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_rating_apply_retries_total",
			Help: "Total number of retried rating applies",
		},
	)

	// RatingApplyFailures counts rating applies parked after exhausting retries
	RatingApplyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_rating_apply_failures_total",
			Help: "Total number of rating applies abandoned after exhausting retries",
		},
	)

	// RouterDispatches counts routed queries by path
	RouterDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_router_dispatch_total",
			Help: "Total number of routed queries by dispatch path",
		},
		[]string{"path"},
	)
)

// Helper functions for common metric operations

// RecordHTTPRequest records the duration and increments the counter for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// UpdateBackendHealth sets the health gauge for a backend
// state should be 0 (healthy), 1 (degraded), or 2 (unreachable)
func UpdateBackendHealth(backend, tier string, state int) {
	BackendHealth.WithLabelValues(backend, tier).Set(float64(state))
}

// RecordProbeFailure increments the probe failure counter
func RecordProbeFailure(backend string) {
	ProbeFailures.WithLabelValues(backend).Inc()
}

// RecordHealthTransition increments the transition counter
func RecordHealthTransition(backend, newState string) {
	HealthTransitions.WithLabelValues(backend, newState).Inc()
}

// RecordProbeCycle records the duration of a full probe cycle
func RecordProbeCycle(duration time.Duration) {
	ProbeCycleDuration.Observe(duration.Seconds())
}

// RecordSlotSwap increments the swap counter and occupancy gauge
func RecordSlotSwap() {
	SlotSwaps.Inc()
}

// RecordSlotEviction increments the eviction counter for the evicted model
func RecordSlotEviction(model string) {
	SlotEvictions.WithLabelValues(model).Inc()
}

// RecordSlotAcquire records an acquisition by result
// result should be "hit", "load", "evict", or "wait"
func RecordSlotAcquire(result string, duration time.Duration) {
	SlotAcquireDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordSlotAcquireTimeout increments the acquire timeout counter
func RecordSlotAcquireTimeout() {
	SlotAcquireTimeouts.Inc()
}

// RecordGeneration records a generation call by backend and outcome
// outcome should be "ok", "timeout", or "error"
func RecordGeneration(backend, outcome string, duration time.Duration) {
	GenerationDuration.WithLabelValues(backend, outcome).Observe(duration.Seconds())
}

// RecordGenerationError increments the generation error counter
func RecordGenerationError(backend, kind string) {
	GenerationErrors.WithLabelValues(backend, kind).Inc()
}

// RecordFallback increments the fallback counter
func RecordFallback(requested, reason string) {
	Fallbacks.WithLabelValues(requested, reason).Inc()
}

// RecordResolveFailure increments the resolve failure counter
func RecordResolveFailure(requested string) {
	ResolveFailures.WithLabelValues(requested).Inc()
}

// RecordTurn increments the turn counter
func RecordTurn() {
	TurnsTotal.Inc()
}

// RecordTurnTimeout increments the per-side timeout counter
func RecordTurnTimeout() {
	TurnTimeouts.Inc()
}

// RecordVote increments the vote counter for an outcome
func RecordVote(outcome string) {
	VotesTotal.WithLabelValues(outcome).Inc()
}

// RecordDuplicateVote increments the duplicate vote counter
func RecordDuplicateVote() {
	DuplicateVotes.Inc()
}

// RecordSessionExpired increments the expiry counter
func RecordSessionExpired() {
	SessionsExpired.Inc()
}

// RecordRatingApply increments the rating apply counter
func RecordRatingApply() {
	RatingApplies.Inc()
}

// RecordRatingApplyRetry increments the rating apply retry counter
func RecordRatingApplyRetry() {
	RatingApplyRetries.Inc()
}

// RecordRatingApplyFailure increments the abandoned-apply counter
func RecordRatingApplyFailure() {
	RatingApplyFailures.Inc()
}

// RecordRouterDispatch increments the router dispatch counter for a path
func RecordRouterDispatch(path string) {
	RouterDispatches.WithLabelValues(path).Inc()
}

// BackendInfo identifies a catalog entry for metric initialization
type BackendInfo struct {
	ID   string
	Tier string
}

// InitializeBackendMetrics seeds the health gauges from the catalog on
// startup so dashboards show every backend before the first probe cycle.
func InitializeBackendMetrics(backends []BackendInfo) {
	for _, b := range backends {
		BackendHealth.WithLabelValues(b.ID, b.Tier).Set(0)
	}
	slog.Info("initialized backend health metrics",
		slog.Int("backends", len(backends)))
}

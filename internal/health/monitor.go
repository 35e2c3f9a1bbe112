package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/model-arena/model-arena/internal/metrics"
	"github.com/model-arena/model-arena/internal/registry"
	"github.com/model-arena/model-arena/pkg/models"
)

const (
	// DefaultProbeInterval is how often a full probe cycle runs
	DefaultProbeInterval = 5 * time.Second

	// DefaultProbeTimeout bounds a single liveness probe
	DefaultProbeTimeout = 2 * time.Second

	// DefaultFailureThreshold is how many consecutive failures mark a
	// backend unreachable. Below it, failures mark the backend degraded.
	DefaultFailureThreshold = 3

	// DefaultRecoveryThreshold is how many consecutive successes restore a
	// backend to healthy. One by default: recovery is fast, condemnation
	// is slow.
	DefaultRecoveryThreshold = 1

	// MaxConcurrentProbes limits parallel probe requests per cycle
	MaxConcurrentProbes = 8
)

// Prober issues one liveness request against a backend
type Prober interface {
	CheckHealth(ctx context.Context) error
}

// ProberSource resolves the prober for a backend id. Satisfied by
// backend.Pool via a small adapter in the wiring code.
type ProberSource interface {
	Prober(backendID string) (Prober, bool)
}

// Monitor runs the recurring probe loop. It is the only component allowed
// to mutate backend health in the registry; probe failures never propagate
// to callers, they only drive state transitions.
type Monitor struct {
	registry *registry.Registry
	probers  ProberSource
	logger   *slog.Logger

	probeInterval     time.Duration
	probeTimeout      time.Duration
	failureThreshold  int
	recoveryThreshold int

	// successes tracks consecutive successful probes for backends still
	// recovering. Only consulted when recoveryThreshold > 1.
	successMu sync.Mutex
	successes map[string]int

	// For time mocking in tests
	now func() time.Time

	// Shutdown coordination
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures the monitor
type Option func(*Monitor)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithProbeInterval sets how often a full probe cycle runs
func WithProbeInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.probeInterval = d
	}
}

// WithProbeTimeout bounds a single probe request
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.probeTimeout = d
	}
}

// WithFailureThreshold sets consecutive failures before unreachable
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) {
		m.failureThreshold = n
	}
}

// WithRecoveryThreshold sets consecutive successes before healthy
func WithRecoveryThreshold(n int) Option {
	return func(m *Monitor) {
		m.recoveryThreshold = n
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(m *Monitor) {
		m.now = fn
	}
}

// New creates a health monitor
func New(reg *registry.Registry, probers ProberSource, opts ...Option) *Monitor {
	m := &Monitor{
		registry:          reg,
		probers:           probers,
		logger:            slog.Default(),
		probeInterval:     DefaultProbeInterval,
		probeTimeout:      DefaultProbeTimeout,
		failureThreshold:  DefaultFailureThreshold,
		recoveryThreshold: DefaultRecoveryThreshold,
		successes:         make(map[string]int),
		now:               time.Now,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins the probe loop
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("health monitor starting",
		slog.Duration("probe_interval", m.probeInterval),
		slog.Int("failure_threshold", m.failureThreshold))

	go m.run(ctx)
	return nil
}

// Stop gracefully stops the monitor
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.logger.Info("health monitor stopping")
	close(m.stopCh)
	<-m.doneCh

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.logger.Info("health monitor stopped")
}

// IsRunning reports whether the probe loop is active
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	// Run an initial cycle so state is current before the first tick
	m.ProbeNow(ctx)

	for {
		select {
		case <-ticker.C:
			m.ProbeNow(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProbeNow runs one full probe cycle against every registered backend.
// Exported for tests and the startup readiness path.
func (m *Monitor) ProbeNow(ctx context.Context) {
	start := m.now()
	backends := m.registry.List()

	sem := make(chan struct{}, MaxConcurrentProbes)
	var wg sync.WaitGroup

	for _, status := range backends {
		wg.Add(1)
		sem <- struct{}{}
		go func(st models.BackendStatus) {
			defer wg.Done()
			defer func() { <-sem }()
			m.probeOne(ctx, st)
		}(status)
	}

	wg.Wait()
	metrics.RecordProbeCycle(m.now().Sub(start))
}

// probeOne probes a single backend and applies the state machine:
// failure while healthy -> degraded; failureThreshold consecutive failures
// -> unreachable; recoveryThreshold consecutive successes -> healthy.
func (m *Monitor) probeOne(ctx context.Context, st models.BackendStatus) {
	id := st.Backend.ID

	prober, ok := m.probers.Prober(id)
	if !ok {
		m.logger.Warn("no prober for backend, skipping",
			slog.String("backend", id))
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	err := prober.CheckHealth(probeCtx)

	if err != nil {
		metrics.RecordProbeFailure(id)
		m.resetSuccesses(id)

		fails := st.ConsecFails + 1
		next := models.HealthDegraded
		if fails >= m.failureThreshold {
			next = models.HealthUnreachable
		}

		if serr := m.registry.SetHealth(id, next, err.Error()); serr != nil {
			m.logger.Error("failed to record probe failure",
				slog.String("backend", id),
				slog.String("error", serr.Error()))
		}

		m.logger.Debug("probe failed",
			slog.String("backend", id),
			slog.Int("consecutive_failures", fails),
			slog.String("state", string(next)),
			slog.String("error", err.Error()))
		return
	}

	if st.Health != models.HealthHealthy && !m.recovered(id) {
		// Still below the recovery threshold; hold the current state but
		// clear the probe error.
		if serr := m.registry.SetHealth(id, st.Health, ""); serr != nil {
			m.logger.Error("failed to record probe result",
				slog.String("backend", id),
				slog.String("error", serr.Error()))
		}
		return
	}

	if serr := m.registry.SetHealth(id, models.HealthHealthy, ""); serr != nil {
		m.logger.Error("failed to record probe success",
			slog.String("backend", id),
			slog.String("error", serr.Error()))
	}
}

// recovered records one successful probe and reports whether the backend
// has met the recovery threshold
func (m *Monitor) recovered(id string) bool {
	if m.recoveryThreshold <= 1 {
		return true
	}

	m.successMu.Lock()
	defer m.successMu.Unlock()

	m.successes[id]++
	if m.successes[id] >= m.recoveryThreshold {
		delete(m.successes, id)
		return true
	}
	return false
}

func (m *Monitor) resetSuccesses(id string) {
	m.successMu.Lock()
	defer m.successMu.Unlock()
	delete(m.successes, id)
}

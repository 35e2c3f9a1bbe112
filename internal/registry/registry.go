package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/model-arena/model-arena/internal/logging"
	"github.com/model-arena/model-arena/internal/metrics"
	"github.com/model-arena/model-arena/pkg/models"
)

// Registry holds the backend catalog and its live health state. The catalog
// is fixed after startup; only health changes at runtime, and only through
// SetHealth, which the health monitor alone is wired to call. Reads vastly
// outnumber writes, so the map is guarded by a RWMutex.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // registration order, for stable listings

	now func() time.Time
}

type entry struct {
	backend     models.Backend
	health      models.HealthState
	consecFails int
	lastProbe   time.Time
	lastHealthy time.Time
	lastError   string
}

// Option configures the registry
type Option func(*Registry)

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(r *Registry) {
		r.now = fn
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a backend to the catalog. Backends start healthy; the first
// probe cycle corrects that if they are not. Duplicate ids are a
// configuration error.
func (r *Registry) Register(b models.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[b.ID]; exists {
		return &DuplicateBackendError{ID: b.ID}
	}

	r.entries[b.ID] = &entry{
		backend: b,
		health:  models.HealthHealthy,
	}
	r.order = append(r.order, b.ID)

	return nil
}

// Get returns the backend and its live status
func (r *Registry) Get(id string) (models.BackendStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return models.BackendStatus{}, ErrNotFound
	}
	return e.status(), nil
}

// Health returns the current health state of a backend
func (r *Registry) Health(id string) (models.HealthState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return "", ErrNotFound
	}
	return e.health, nil
}

// List returns every backend with its live status, in registration order
func (r *Registry) List() []models.BackendStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.BackendStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].status())
	}
	return out
}

// ListHealthy returns healthy backends, optionally filtered by tier,
// sorted by id so callers iterating the pool see a stable order.
func (r *Registry) ListHealthy(tiers ...models.Tier) []models.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Backend
	for _, e := range r.entries {
		if e.health != models.HealthHealthy {
			continue
		}
		if len(tiers) > 0 && !tierMatch(e.backend.Tier, tiers) {
			continue
		}
		out = append(out, e.backend)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetHealth records the outcome of a probe and transitions the backend's
// health state. Called only by the health monitor; probeErr is empty on a
// successful probe. Only failed probes count toward the consecutive
// failure streak: a success that holds a non-healthy state (recovery
// threshold not yet met) still breaks the streak. Transitions are
// audit-logged and metered.
func (r *Registry) SetHealth(id string, state models.HealthState, probeErr string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	prev := e.health
	now := r.now()

	e.health = state
	e.lastProbe = now
	e.lastError = probeErr
	if probeErr == "" {
		e.consecFails = 0
	} else {
		e.consecFails++
	}
	if state == models.HealthHealthy {
		e.lastHealthy = now
	}

	backend := e.backend
	r.mu.Unlock()

	metrics.UpdateBackendHealth(backend.ID, string(backend.Tier), healthGaugeValue(state))

	if prev != state {
		metrics.RecordHealthTransition(backend.ID, string(state))
		logging.Audit(context.Background(), "health_transition",
			"backend", backend.ID,
			"tier", string(backend.Tier),
			"from", string(prev),
			"to", string(state),
			"error", probeErr)
	}

	return nil
}

func (e *entry) status() models.BackendStatus {
	return models.BackendStatus{
		Backend:     e.backend,
		Health:      e.health,
		ConsecFails: e.consecFails,
		LastProbe:   e.lastProbe,
		LastHealthy: e.lastHealthy,
		LastError:   e.lastError,
	}
}

func tierMatch(t models.Tier, tiers []models.Tier) bool {
	for _, want := range tiers {
		if t == want {
			return true
		}
	}
	return false
}

func healthGaugeValue(s models.HealthState) int {
	switch s {
	case models.HealthHealthy:
		return 0
	case models.HealthDegraded:
		return 1
	default:
		return 2
	}
}

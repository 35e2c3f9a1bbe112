package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/model-arena/model-arena/internal/logging"
	"github.com/model-arena/model-arena/internal/metrics"
	"github.com/model-arena/model-arena/pkg/models"
)

// Errors returned by Acquire
var (
	// ErrTimedOut means the deadline elapsed before a slot could be granted
	ErrTimedOut = errors.New("slot acquisition timed out")

	// ErrUnavailable means the model's backend is unreachable, so loading
	// it would waste a slot
	ErrUnavailable = errors.New("backend unreachable, slot not attempted")
)

// HealthSource reports backend health for the fail-fast check.
// Satisfied by registry.Registry.
type HealthSource interface {
	Health(id string) (models.HealthState, error)
}

// slot is one unit of GPU capacity. All fields are guarded by the
// scheduler mutex.
type slot struct {
	index    int
	modelID  string // empty when free
	loadedAt time.Time
	lastUsed time.Time
	refCount int
}

// SlotHandle is a live reference to a loaded model's slot. The holder must
// call Release exactly once when its generation call finishes; the slot
// cannot be evicted while any handle is outstanding.
type SlotHandle struct {
	sched   *Scheduler
	slot    *slot
	modelID string

	mu       sync.Mutex
	released bool
}

// ModelID returns the model this handle pins
func (h *SlotHandle) ModelID() string {
	return h.modelID
}

// Release drops the handle's pin on the slot. The model stays warm until
// another acquire needs the space. Releasing twice is a no-op.
func (h *SlotHandle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		slog.Warn("slot handle released twice",
			slog.String("model", h.modelID))
		return
	}
	h.released = true
	h.mu.Unlock()

	h.sched.release(h.slot)
}

// Scheduler multiplexes a fixed number of GPU slots across the GPU-tier
// catalog. A single mutex serializes all slot mutations; concurrent use of
// an already-loaded slot is allowed through reference counting. Waiters
// blocked on pinned slots are served in FIFO order.
type Scheduler struct {
	health HealthSource
	logger *slog.Logger

	mu      sync.Mutex
	slots   []*slot
	waiters []chan struct{} // FIFO; closed to wake

	swaps     uint64
	evictions uint64

	// For time mocking in tests
	now func() time.Time
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = fn
	}
}

// New creates a scheduler with slotCount slots
func New(slotCount int, health HealthSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		health: health,
		logger: slog.Default(),
		slots:  make([]*slot, slotCount),
		now:    time.Now,
	}
	for i := range s.slots {
		s.slots[i] = &slot{index: i}
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Acquire grants a slot holding modelID, loading or evicting as needed.
// The context deadline bounds the wait when every slot is pinned by
// in-flight work. Exactly one of three outcomes: a handle, ErrTimedOut,
// or ErrUnavailable.
func (s *Scheduler) Acquire(ctx context.Context, modelID string) (*SlotHandle, error) {
	start := s.now()

	for {
		s.mu.Lock()

		// Fail fast: never burn a slot on a backend known to be down
		if state, err := s.health.Health(modelID); err == nil && state == models.HealthUnreachable {
			s.mu.Unlock()
			return nil, ErrUnavailable
		}

		// Cache hit: model already resident
		if sl := s.findLoaded(modelID); sl != nil {
			sl.lastUsed = s.now()
			sl.refCount++
			s.mu.Unlock()
			metrics.RecordSlotAcquire("hit", s.now().Sub(start))
			return s.handle(sl, modelID), nil
		}

		// Free slot: load without evicting
		if sl := s.findFree(); sl != nil {
			s.load(sl, modelID)
			s.mu.Unlock()
			metrics.RecordSlotAcquire("load", s.now().Sub(start))
			return s.handle(sl, modelID), nil
		}

		// Evict the least-recently-used unpinned slot. Ties break on the
		// lowest slot index, which keeps eviction deterministic.
		if victim := s.findVictim(); victim != nil {
			evicted := victim.modelID
			s.load(victim, modelID)
			s.evictions++
			s.mu.Unlock()

			metrics.RecordSlotEviction(evicted)
			metrics.RecordSlotAcquire("evict", s.now().Sub(start))
			logging.Audit(context.Background(), "slot_eviction",
				"evicted", evicted,
				"loaded", modelID,
				"slot", victim.index)
			return s.handle(victim, modelID), nil
		}

		// Every slot is pinned by in-flight work: join the waiter queue
		wake := make(chan struct{})
		s.waiters = append(s.waiters, wake)
		metrics.SlotWaiters.Set(float64(len(s.waiters)))
		s.mu.Unlock()

		select {
		case <-wake:
			// Capacity may have freed; re-run the whole decision. Another
			// waiter can still beat us to it, so this is a loop, not a
			// grant.
		case <-ctx.Done():
			s.dropWaiter(wake)
			metrics.RecordSlotAcquireTimeout()
			metrics.RecordSlotAcquire("wait", s.now().Sub(start))
			return nil, ErrTimedOut
		}
	}
}

// Status returns a point-in-time snapshot of the slot table
func (s *Scheduler) Status() models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.SchedulerStatus{
		SlotCount: len(s.slots),
		Slots:     make([]models.SlotInfo, len(s.slots)),
		Waiters:   len(s.waiters),
		Swaps:     s.swaps,
		Evictions: s.evictions,
	}
	for i, sl := range s.slots {
		status.Slots[i] = models.SlotInfo{
			Index:    sl.index,
			ModelID:  sl.modelID,
			LoadedAt: sl.loadedAt,
			LastUsed: sl.lastUsed,
			RefCount: sl.refCount,
		}
	}
	return status
}

// release drops one reference and wakes the head waiter if the slot became
// evictable
func (s *Scheduler) release(sl *slot) {
	s.mu.Lock()

	if sl.refCount > 0 {
		sl.refCount--
	}

	var wake chan struct{}
	if sl.refCount == 0 && len(s.waiters) > 0 {
		wake = s.waiters[0]
		s.waiters = s.waiters[1:]
		metrics.SlotWaiters.Set(float64(len(s.waiters)))
	}
	s.mu.Unlock()

	if wake != nil {
		close(wake)
	}
}

// dropWaiter removes a timed-out waiter from the queue. If the waiter was
// already woken, its grant chance passes to the next in line.
func (s *Scheduler) dropWaiter(wake chan struct{}) {
	s.mu.Lock()

	for i, w := range s.waiters {
		if w == wake {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			metrics.SlotWaiters.Set(float64(len(s.waiters)))
			s.mu.Unlock()
			return
		}
	}

	// Not in the queue: we were woken concurrently with the deadline.
	// Pass the wakeup on so it is not lost.
	var next chan struct{}
	if len(s.waiters) > 0 {
		next = s.waiters[0]
		s.waiters = s.waiters[1:]
		metrics.SlotWaiters.Set(float64(len(s.waiters)))
	}
	s.mu.Unlock()

	if next != nil {
		close(next)
	}
}

// Callers must hold s.mu for all helpers below.

func (s *Scheduler) findLoaded(modelID string) *slot {
	for _, sl := range s.slots {
		if sl.modelID == modelID {
			return sl
		}
	}
	return nil
}

func (s *Scheduler) findFree() *slot {
	for _, sl := range s.slots {
		if sl.modelID == "" {
			return sl
		}
	}
	return nil
}

// findVictim returns the least-recently-used slot with no in-flight
// references, or nil when everything is pinned. Iteration order makes the
// lowest index win LRU ties.
func (s *Scheduler) findVictim() *slot {
	var victim *slot
	for _, sl := range s.slots {
		if sl.refCount > 0 {
			continue
		}
		if victim == nil || sl.lastUsed.Before(victim.lastUsed) {
			victim = sl
		}
	}
	return victim
}

func (s *Scheduler) load(sl *slot, modelID string) {
	now := s.now()
	sl.modelID = modelID
	sl.loadedAt = now
	sl.lastUsed = now
	sl.refCount = 1
	s.swaps++

	metrics.RecordSlotSwap()
	s.updateOccupancy()
}

func (s *Scheduler) updateOccupancy() {
	occupied := 0
	for _, sl := range s.slots {
		if sl.modelID != "" {
			occupied++
		}
	}
	metrics.SlotsOccupied.Set(float64(occupied))
}

func (s *Scheduler) handle(sl *slot, modelID string) *SlotHandle {
	return &SlotHandle{sched: s, slot: sl, modelID: modelID}
}

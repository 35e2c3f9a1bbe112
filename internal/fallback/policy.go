// Package fallback decides which backend actually serves a requested model.
// The decision is a pure function of registry health and slot availability,
// kept separate from any call-site retry loop so it is independently
// testable.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/model-arena/model-arena/internal/logging"
	"github.com/model-arena/model-arena/internal/metrics"
	"github.com/model-arena/model-arena/internal/registry"
	"github.com/model-arena/model-arena/internal/scheduler"
	"github.com/model-arena/model-arena/pkg/models"
)

// ErrBackendUnavailable means neither the requested backend nor any
// configured substitute can serve. Surfaced to callers as retryable.
var ErrBackendUnavailable = errors.New("no viable backend or fallback")

// Fallback reasons recorded on resolutions and metrics
const (
	ReasonSlotTimeout    = "gpu-slot-timeout"
	ReasonGPUDegraded    = "gpu-degraded"
	ReasonGPUUnreachable = "gpu-unreachable"
	ReasonCPUDegraded    = "cpu-degraded"
)

// DefaultAcquireBudget bounds the slot acquisition attempt before the
// policy falls back to the CPU tier
const DefaultAcquireBudget = 2 * time.Second

// Resolution is the outcome of resolving one requested model
type Resolution struct {
	Backend models.Backend

	// Slot is held for GPU-tier resolutions and must be released when the
	// generation call finishes. Nil for CPU-tier backends.
	Slot *scheduler.SlotHandle

	// Fallback marks a degraded-fallback substitution or a degraded
	// direct hit; Reason says why
	Fallback bool
	Reason   string
}

// Release frees the slot handle, if any. Safe on CPU resolutions.
func (r *Resolution) Release() {
	if r.Slot != nil {
		r.Slot.Release()
	}
}

// Policy resolves requested models to usable backends
type Policy struct {
	registry      *registry.Registry
	scheduler     *scheduler.Scheduler
	logger        *slog.Logger
	acquireBudget time.Duration
}

// Option configures the policy
type Option func(*Policy)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// WithAcquireBudget sets the slot acquisition budget
func WithAcquireBudget(d time.Duration) Option {
	return func(p *Policy) {
		p.acquireBudget = d
	}
}

// New creates a fallback policy
func New(reg *registry.Registry, sched *scheduler.Scheduler, opts ...Option) *Policy {
	p := &Policy{
		registry:      reg,
		scheduler:     sched,
		logger:        slog.Default(),
		acquireBudget: DefaultAcquireBudget,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Resolve maps a requested model id to the backend that will serve it.
// Decision order: healthy direct hit first (with a slot for GPU tier),
// then the configured CPU substitute, then ErrBackendUnavailable.
// Each arena pair side resolves independently through this.
func (p *Policy) Resolve(ctx context.Context, modelID string) (*Resolution, error) {
	status, err := p.registry.Get(modelID)
	if err != nil {
		return nil, err
	}

	if status.Backend.Tier == models.TierCPU {
		return p.resolveCPU(status)
	}
	return p.resolveGPU(ctx, status)
}

// resolveCPU serves CPU-tier requests directly. There is no lower tier, so
// a degraded CPU backend is still used, flagged for audit.
func (p *Policy) resolveCPU(status models.BackendStatus) (*Resolution, error) {
	switch status.Health {
	case models.HealthHealthy:
		return &Resolution{Backend: status.Backend}, nil
	case models.HealthDegraded:
		metrics.RecordFallback(status.Backend.ID, ReasonCPUDegraded)
		return &Resolution{
			Backend:  status.Backend,
			Fallback: true,
			Reason:   ReasonCPUDegraded,
		}, nil
	default:
		metrics.RecordResolveFailure(status.Backend.ID)
		return nil, fmt.Errorf("backend %s is unreachable: %w", status.Backend.ID, ErrBackendUnavailable)
	}
}

func (p *Policy) resolveGPU(ctx context.Context, status models.BackendStatus) (*Resolution, error) {
	requested := status.Backend

	var reason string
	switch status.Health {
	case models.HealthHealthy:
		acquireCtx, cancel := context.WithTimeout(ctx, p.acquireBudget)
		handle, err := p.scheduler.Acquire(acquireCtx, requested.ID)
		cancel()

		if err == nil {
			return &Resolution{Backend: requested, Slot: handle}, nil
		}

		switch {
		case errors.Is(err, scheduler.ErrTimedOut):
			reason = ReasonSlotTimeout
		case errors.Is(err, scheduler.ErrUnavailable):
			// Health flipped between the registry read and the acquire
			reason = ReasonGPUUnreachable
		default:
			return nil, err
		}
	case models.HealthDegraded:
		reason = ReasonGPUDegraded
	default:
		reason = ReasonGPUUnreachable
	}

	return p.substitute(ctx, requested, reason)
}

// substitute resolves the configured CPU-tier equivalent
func (p *Policy) substitute(ctx context.Context, requested models.Backend, reason string) (*Resolution, error) {
	if requested.FallbackID == "" {
		metrics.RecordResolveFailure(requested.ID)
		p.logger.Warn("no fallback configured",
			slog.String("backend", requested.ID),
			slog.String("reason", reason))
		if reason == ReasonSlotTimeout {
			// Preserve the timeout signal for callers that distinguish it
			return nil, fmt.Errorf("no fallback for %s: %w: %w",
				requested.ID, ErrBackendUnavailable, scheduler.ErrTimedOut)
		}
		return nil, fmt.Errorf("no fallback for %s (%s): %w", requested.ID, reason, ErrBackendUnavailable)
	}

	sub, err := p.registry.Get(requested.FallbackID)
	if err != nil {
		metrics.RecordResolveFailure(requested.ID)
		return nil, fmt.Errorf("fallback %s for %s: %w", requested.FallbackID, requested.ID, ErrBackendUnavailable)
	}

	if sub.Health == models.HealthUnreachable {
		metrics.RecordResolveFailure(requested.ID)
		return nil, fmt.Errorf("fallback %s for %s is unreachable: %w",
			requested.FallbackID, requested.ID, ErrBackendUnavailable)
	}

	metrics.RecordFallback(requested.ID, reason)
	p.logger.Debug("substituting backend",
		slog.String("requested", requested.ID),
		slog.String("substitute", sub.Backend.ID),
		slog.String("reason", reason))
	logging.Audit(ctx, "degraded_fallback",
		"requested", requested.ID,
		"substitute", sub.Backend.ID,
		"reason", reason)

	return &Resolution{
		Backend:  sub.Backend,
		Fallback: true,
		Reason:   reason,
	}, nil
}

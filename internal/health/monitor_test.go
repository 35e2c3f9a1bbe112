package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-arena/model-arena/internal/registry"
	"github.com/model-arena/model-arena/pkg/models"
)

// fakeProber returns scripted results per backend
type fakeProber struct {
	mu   sync.Mutex
	fail bool
}

func (p *fakeProber) CheckHealth(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("connection refused")
	}
	return nil
}

func (p *fakeProber) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

type fakeProberSource struct {
	probers map[string]*fakeProber
}

func (s *fakeProberSource) Prober(id string) (Prober, bool) {
	p, ok := s.probers[id]
	return p, ok
}

func newTestMonitor(t *testing.T, ids ...string) (*Monitor, *registry.Registry, *fakeProberSource) {
	t.Helper()

	reg := registry.New()
	src := &fakeProberSource{probers: make(map[string]*fakeProber)}
	for _, id := range ids {
		require.NoError(t, reg.Register(models.Backend{
			ID:       id,
			Name:     id,
			Tier:     models.TierGPU,
			Endpoint: "http://" + id + ":8000",
		}))
		src.probers[id] = &fakeProber{}
	}

	m := New(reg, src,
		WithProbeInterval(10*time.Millisecond),
		WithProbeTimeout(50*time.Millisecond))
	return m, reg, src
}

func TestMonitor_ProbeNow_AllHealthy(t *testing.T) {
	m, reg, _ := newTestMonitor(t, "a", "b")

	m.ProbeNow(context.Background())

	for _, id := range []string{"a", "b"} {
		state, err := reg.Health(id)
		require.NoError(t, err)
		assert.Equal(t, models.HealthHealthy, state)
	}
}

func TestMonitor_ThreeFailuresReachUnreachable(t *testing.T) {
	m, reg, src := newTestMonitor(t, "a")
	src.probers["a"].setFail(true)

	ctx := context.Background()

	m.ProbeNow(ctx)
	state, _ := reg.Health("a")
	assert.Equal(t, models.HealthDegraded, state)

	m.ProbeNow(ctx)
	state, _ = reg.Health("a")
	assert.Equal(t, models.HealthDegraded, state)

	m.ProbeNow(ctx)
	state, _ = reg.Health("a")
	assert.Equal(t, models.HealthUnreachable, state)
}

func TestMonitor_OneSuccessRecoversImmediately(t *testing.T) {
	m, reg, src := newTestMonitor(t, "a")
	ctx := context.Background()

	src.probers["a"].setFail(true)
	for i := 0; i < 3; i++ {
		m.ProbeNow(ctx)
	}
	state, _ := reg.Health("a")
	require.Equal(t, models.HealthUnreachable, state)

	src.probers["a"].setFail(false)
	m.ProbeNow(ctx)

	state, _ = reg.Health("a")
	assert.Equal(t, models.HealthHealthy, state)

	status, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 0, status.ConsecFails)
}

func TestMonitor_RecoveryThresholdAboveOne(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(models.Backend{
		ID: "a", Name: "a", Tier: models.TierGPU, Endpoint: "http://a:8000",
	}))
	prober := &fakeProber{}
	src := &fakeProberSource{probers: map[string]*fakeProber{"a": prober}}

	m := New(reg, src, WithRecoveryThreshold(2))
	ctx := context.Background()

	prober.setFail(true)
	m.ProbeNow(ctx)
	state, _ := reg.Health("a")
	require.Equal(t, models.HealthDegraded, state)

	// First success holds the degraded state without counting as a failure
	prober.setFail(false)
	m.ProbeNow(ctx)
	state, _ = reg.Health("a")
	assert.Equal(t, models.HealthDegraded, state)

	status, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 0, status.ConsecFails)

	// Second consecutive success recovers
	m.ProbeNow(ctx)
	state, _ = reg.Health("a")
	assert.Equal(t, models.HealthHealthy, state)
}

func TestMonitor_NonConsecutiveFailuresStayDegraded(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(models.Backend{
		ID: "a", Name: "a", Tier: models.TierGPU, Endpoint: "http://a:8000",
	}))
	prober := &fakeProber{}
	src := &fakeProberSource{probers: map[string]*fakeProber{"a": prober}}

	m := New(reg, src, WithFailureThreshold(2), WithRecoveryThreshold(2))
	ctx := context.Background()

	prober.setFail(true)
	m.ProbeNow(ctx)
	prober.setFail(false)
	m.ProbeNow(ctx)
	prober.setFail(true)
	m.ProbeNow(ctx)

	// fail, success, fail: the success broke the streak, so the threshold
	// of two consecutive failures was never met
	state, _ := reg.Health("a")
	assert.Equal(t, models.HealthDegraded, state)

	status, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, status.ConsecFails)
}

func TestMonitor_FailureResetsSuccessCount(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(models.Backend{
		ID: "a", Name: "a", Tier: models.TierGPU, Endpoint: "http://a:8000",
	}))
	prober := &fakeProber{}
	src := &fakeProberSource{probers: map[string]*fakeProber{"a": prober}}

	m := New(reg, src, WithRecoveryThreshold(2))
	ctx := context.Background()

	prober.setFail(true)
	m.ProbeNow(ctx)

	prober.setFail(false)
	m.ProbeNow(ctx) // one success

	prober.setFail(true)
	m.ProbeNow(ctx) // failure wipes the success streak

	prober.setFail(false)
	m.ProbeNow(ctx) // one success again, not enough

	state, _ := reg.Health("a")
	assert.NotEqual(t, models.HealthHealthy, state)
}

func TestMonitor_StartStop(t *testing.T) {
	m, reg, _ := newTestMonitor(t, "a")

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.IsRunning())

	// Idempotent start
	require.NoError(t, m.Start(context.Background()))

	// Let at least one cycle run
	time.Sleep(30 * time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())

	// Idempotent stop
	m.Stop()

	state, err := reg.Health("a")
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, state)
}

func TestMonitor_ProbeFailureNeverPanics(t *testing.T) {
	m, reg, src := newTestMonitor(t, "a")
	delete(src.probers, "a") // no prober wired at all

	assert.NotPanics(t, func() {
		m.ProbeNow(context.Background())
	})

	// State untouched when no prober exists
	state, err := reg.Health("a")
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, state)
}

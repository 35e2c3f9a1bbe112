package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-arena/model-arena/internal/backend"
	"github.com/model-arena/model-arena/internal/fallback"
	"github.com/model-arena/model-arena/internal/registry"
	"github.com/model-arena/model-arena/pkg/models"
)

// fakeResolver resolves every known model directly, no slots involved
type fakeResolver struct {
	mu       sync.Mutex
	reg      *registry.Registry
	failing  map[string]bool
	fallback map[string]bool
}

func (r *fakeResolver) Resolve(ctx context.Context, modelID string) (*fallback.Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failing[modelID] {
		return nil, fallback.ErrBackendUnavailable
	}

	status, err := r.reg.Get(modelID)
	if err != nil {
		return nil, err
	}
	return &fallback.Resolution{
		Backend:  status.Backend,
		Fallback: r.fallback[modelID],
		Reason:   "gpu-degraded",
	}, nil
}

// fakeClient echoes a canned reply per backend
type fakeClient struct {
	id      string
	reply   string
	err     error
	delay   time.Duration
	mu      sync.Mutex
	calls   int
	prompts []string
}

func (c *fakeClient) Name() string { return c.id }

func (c *fakeClient) Generate(ctx context.Context, req backend.GenerateRequest) (*backend.GenerateResponse, error) {
	c.mu.Lock()
	c.calls++
	c.prompts = append(c.prompts, req.Prompt)
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, backend.NewGenerationError(c.id, "generate", backend.KindTimeout, 0, "deadline", ctx.Err())
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &backend.GenerateResponse{Text: c.reply, Backend: c.id}, nil
}

func (c *fakeClient) CheckHealth(ctx context.Context) error { return nil }

type fakeClients struct {
	clients map[string]*fakeClient
}

func (f *fakeClients) Get(id string) (backend.Client, bool) {
	c, ok := f.clients[id]
	return c, ok
}

// memVoteLog appends in memory, assigning sequential ids
type memVoteLog struct {
	mu      sync.Mutex
	records []models.VoteRecord
	fail    bool
}

func (l *memVoteLog) Append(ctx context.Context, record *models.VoteRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errors.New("disk full")
	}
	record.ID = int64(len(l.records) + 1)
	l.records = append(l.records, *record)
	return nil
}

type memRatings struct {
	mu        sync.Mutex
	submitted []models.VoteRecord
}

func (r *memRatings) Submit(rec models.VoteRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, rec)
}

type fixture struct {
	manager  *Manager
	registry *registry.Registry
	resolver *fakeResolver
	clients  *fakeClients
	votes    *memVoteLog
	ratings  *memRatings
}

func newFixture(t *testing.T, backendIDs []string, opts ...Option) *fixture {
	t.Helper()

	reg := registry.New()
	clients := &fakeClients{clients: make(map[string]*fakeClient)}
	for _, id := range backendIDs {
		require.NoError(t, reg.Register(models.Backend{
			ID:       id,
			Name:     id,
			Tier:     models.TierGPU,
			Endpoint: "http://" + id + ":8000",
			Tags:     []string{models.TagChat},
		}))
		clients.clients[id] = &fakeClient{id: id, reply: "reply from " + id}
	}

	resolver := &fakeResolver{
		reg:      reg,
		failing:  make(map[string]bool),
		fallback: make(map[string]bool),
	}
	votes := &memVoteLog{}
	ratings := &memRatings{}

	// Deterministic labels unless the test overrides
	allOpts := append([]Option{WithShuffleFunc(func() bool { return false })}, opts...)
	m := New(reg, resolver, clients, votes, ratings, allOpts...)

	return &fixture{
		manager:  m,
		registry: reg,
		resolver: resolver,
		clients:  clients,
		votes:    votes,
		ratings:  ratings,
	}
}

func TestTurn_ProducesAnonymizedPair(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"})

	result, err := f.manager.Turn(context.Background(), "sess-1", "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Turn)
	require.Len(t, result.Responses, 2)
	assert.Equal(t, "A", result.Responses[0].Label)
	assert.Equal(t, "B", result.Responses[1].Label)

	// Texts come from the two distinct backends; identities stay hidden
	texts := map[string]bool{
		result.Responses[0].Text: true,
		result.Responses[1].Text: true,
	}
	assert.True(t, texts["reply from llama-gpu"])
	assert.True(t, texts["reply from mistral-gpu"])
}

func TestTurn_BothSidesCalledConcurrently(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"},
		WithGenerationTimeout(2*time.Second))

	for _, c := range f.clients.clients {
		c.delay = 100 * time.Millisecond
	}

	start := time.Now()
	_, err := f.manager.Turn(context.Background(), "sess-1", "hello")
	require.NoError(t, err)

	// Sequential calls would take ~200ms
	assert.Less(t, time.Since(start), 180*time.Millisecond)
}

func TestTurn_RejectsWhileVotePending(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"})
	ctx := context.Background()

	_, err := f.manager.Turn(ctx, "sess-1", "hello")
	require.NoError(t, err)

	_, err = f.manager.Turn(ctx, "sess-1", "again")
	assert.ErrorIs(t, err, ErrVotePending)
}

func TestTurn_TimeoutSideGetsPlaceholder(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"},
		WithGenerationTimeout(50*time.Millisecond))

	f.clients.clients["mistral-gpu"].delay = time.Second

	result, err := f.manager.Turn(context.Background(), "sess-1", "hello")
	require.NoError(t, err)

	timedOut := 0
	for _, r := range result.Responses {
		if r.TimedOut {
			timedOut++
			assert.Equal(t, timeoutPlaceholder, r.Text)
		}
	}
	assert.Equal(t, 1, timedOut)
}

func TestTurn_FewerThanTwoCandidates(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu"})

	_, err := f.manager.Turn(context.Background(), "sess-1", "hello")
	assert.ErrorIs(t, err, ErrNoBackendsAvailable)
}

func TestTurn_SkipsUnresolvableCandidate(t *testing.T) {
	f := newFixture(t, []string{"a-gpu", "b-gpu", "c-gpu"})
	f.resolver.failing["a-gpu"] = true

	result, err := f.manager.Turn(context.Background(), "sess-1", "hello")
	require.NoError(t, err)
	require.Len(t, result.Responses, 2)

	for _, r := range result.Responses {
		assert.NotEqual(t, "reply from a-gpu", r.Text)
	}
}

func TestTurn_AllCandidatesUnresolvable(t *testing.T) {
	f := newFixture(t, []string{"a-gpu", "b-gpu"})
	f.resolver.failing["a-gpu"] = true
	f.resolver.failing["b-gpu"] = true

	_, err := f.manager.Turn(context.Background(), "sess-1", "hello")
	assert.ErrorIs(t, err, ErrNoBackendsAvailable)
}

func TestTurn_FallbackNoteIsGeneric(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"})
	f.resolver.fallback["llama-gpu"] = true

	result, err := f.manager.Turn(context.Background(), "sess-1", "hello")
	require.NoError(t, err)

	noted := 0
	for _, r := range result.Responses {
		if r.Note != "" {
			noted++
			// The note must never leak the substitute's identity
			assert.NotContains(t, r.Note, "llama")
			assert.NotContains(t, r.Note, "cpu")
		}
	}
	assert.Equal(t, 1, noted)
}

func TestTurn_ExcludedBackendNeverPaired(t *testing.T) {
	f := newFixture(t, []string{"a-gpu", "b-gpu", "tool-provider"},
		WithExcludedBackends("tool-provider"))

	for i := 0; i < 5; i++ {
		sessID := fmt.Sprintf("sess-%d", i)
		result, err := f.manager.Turn(context.Background(), sessID, "hello")
		require.NoError(t, err)
		for _, r := range result.Responses {
			assert.NotEqual(t, "reply from tool-provider", r.Text)
		}
	}
}

func TestVote_RecordsAndReveals(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"})
	ctx := context.Background()

	_, err := f.manager.Turn(ctx, "sess-1", "hello")
	require.NoError(t, err)

	result, err := f.manager.Vote(ctx, "sess-1", models.OutcomeAWins)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Turn)
	assert.Equal(t, models.OutcomeAWins, result.Outcome)
	assert.NotEmpty(t, result.Revealed.A)
	assert.NotEmpty(t, result.Revealed.B)
	assert.NotEqual(t, result.Revealed.A, result.Revealed.B)

	// Durable record carries the true identities behind the labels
	require.Len(t, f.votes.records, 1)
	rec := f.votes.records[0]
	assert.Equal(t, result.Revealed.A, rec.ModelA)
	assert.Equal(t, result.Revealed.B, rec.ModelB)

	// Rating sink received the committed record with its id
	require.Len(t, f.ratings.submitted, 1)
	assert.Equal(t, int64(1), f.ratings.submitted[0].ID)
}

func TestVote_DuplicateRejected(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"})
	ctx := context.Background()

	_, err := f.manager.Turn(ctx, "sess-1", "hello")
	require.NoError(t, err)

	_, err = f.manager.Vote(ctx, "sess-1", models.OutcomeAWins)
	require.NoError(t, err)

	_, err = f.manager.Vote(ctx, "sess-1", models.OutcomeBWins)
	assert.ErrorIs(t, err, ErrDuplicateVote)

	// Only the first vote exists
	assert.Len(t, f.votes.records, 1)
	assert.Equal(t, models.OutcomeAWins, f.votes.records[0].Outcome)
}

func TestVote_NoPendingPair(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"})

	// Session exists but never ran a turn
	_, err := f.manager.Turn(context.Background(), "sess-1", "hello")
	require.NoError(t, err)
	_, err = f.manager.Vote(context.Background(), "sess-1", models.OutcomeTie)
	require.NoError(t, err)

	// Voting again after return to idle on a fresh turn boundary
	_, err = f.manager.Vote(context.Background(), "sess-1", models.OutcomeTie)
	assert.ErrorIs(t, err, ErrDuplicateVote)
}

func TestVote_UnknownSession(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"})

	_, err := f.manager.Vote(context.Background(), "ghost", models.OutcomeTie)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestVote_AppendFailureLeavesVotePending(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"})
	ctx := context.Background()

	_, err := f.manager.Turn(ctx, "sess-1", "hello")
	require.NoError(t, err)

	f.votes.fail = true
	_, err = f.manager.Vote(ctx, "sess-1", models.OutcomeAWins)
	require.Error(t, err)

	// The pair is still votable once the log recovers
	f.votes.fail = false
	_, err = f.manager.Vote(ctx, "sess-1", models.OutcomeAWins)
	assert.NoError(t, err)
	assert.Empty(t, f.ratings.submitted[:len(f.ratings.submitted)-1])
}

func TestVote_ShuffledLabelsMapBack(t *testing.T) {
	// Force the swapped assignment
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"},
		WithShuffleFunc(func() bool { return true }))
	ctx := context.Background()

	_, err := f.manager.Turn(ctx, "sess-1", "hello")
	require.NoError(t, err)

	result, err := f.manager.Vote(ctx, "sess-1", models.OutcomeAWins)
	require.NoError(t, err)

	// Labels still map to two distinct real models
	assert.NotEqual(t, result.Revealed.A, result.Revealed.B)
	rec := f.votes.records[0]
	assert.Equal(t, result.Revealed.A, rec.ModelA)
	assert.Equal(t, result.Revealed.B, rec.ModelB)
}

func TestNextTurn_AvoidsImmediatePairRepeat(t *testing.T) {
	f := newFixture(t, []string{"a-gpu", "b-gpu", "c-gpu"})
	ctx := context.Background()

	pairOf := func() [2]string {
		result, err := f.manager.Turn(ctx, "sess-1", "hello")
		require.NoError(t, err)
		vote, err := f.manager.Vote(ctx, "sess-1", models.OutcomeTie)
		require.NoError(t, err)
		_ = result
		return [2]string{vote.Revealed.A, vote.Revealed.B}
	}

	prev := pairOf()
	for i := 0; i < 4; i++ {
		next := pairOf()
		assert.False(t, samePair(prev, next),
			"pair repeated immediately with pool size 3: %v then %v", prev, next)
		prev = next
	}
}

func TestSession_ExpiresAfterTTL(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"},
		WithSessionTTL(50*time.Millisecond))
	ctx := context.Background()

	_, err := f.manager.Turn(ctx, "sess-1", "hello")
	require.NoError(t, err)

	_, err = f.manager.Get("sess-1")
	require.NoError(t, err)

	// The expirable cache sweeps at TTL granularity; give it headroom
	time.Sleep(200 * time.Millisecond)

	_, err = f.manager.Get("sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGet_SnapshotStates(t *testing.T) {
	f := newFixture(t, []string{"llama-gpu", "mistral-gpu"})
	ctx := context.Background()

	_, err := f.manager.Turn(ctx, "sess-1", "hello")
	require.NoError(t, err)

	view, err := f.manager.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionAwaitingVote, view.State)
	assert.Equal(t, 1, view.Turn)
	assert.Equal(t, 0, view.Votes)

	_, err = f.manager.Vote(ctx, "sess-1", models.OutcomeTie)
	require.NoError(t, err)

	view, err = f.manager.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionIdle, view.State)
	assert.Equal(t, 1, view.Votes)
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	f := newFixture(t, []string{"a-gpu", "b-gpu", "c-gpu"})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessID := fmt.Sprintf("sess-%d", i)
			if _, err := f.manager.Turn(ctx, sessID, "hello"); err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = f.manager.Vote(ctx, sessID, models.OutcomeAWins)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "session %d", i)
	}
	assert.Len(t, f.votes.records, 8)
}

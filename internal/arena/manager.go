// Package arena runs the pairwise comparison mode: it picks two candidate
// models per turn, fans the prompt out to both concurrently, anonymizes the
// results, and turns the single allowed vote into a durable record.
package arena

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/model-arena/model-arena/internal/backend"
	"github.com/model-arena/model-arena/internal/fallback"
	"github.com/model-arena/model-arena/internal/logging"
	"github.com/model-arena/model-arena/internal/metrics"
	"github.com/model-arena/model-arena/internal/registry"
	"github.com/model-arena/model-arena/pkg/models"
)

const (
	// DefaultSessionTTL reclaims idle sessions
	DefaultSessionTTL = 30 * time.Minute

	// DefaultMaxSessions bounds the session cache
	DefaultMaxSessions = 4096

	// DefaultGenerationTimeout bounds each side of a pair independently
	DefaultGenerationTimeout = 60 * time.Second

	// timeoutPlaceholder stands in for a side that produced nothing.
	// Shown to the voter so the turn is still both_bad-eligible.
	timeoutPlaceholder = "(no response: this model did not answer in time)"

	// fallbackNote is the only availability hint the voter sees. It never
	// names the substitute.
	fallbackNote = "this response may have taken a slower path than usual"
)

// Resolver maps a requested model to the backend that serves it.
// Satisfied by fallback.Policy.
type Resolver interface {
	Resolve(ctx context.Context, modelID string) (*fallback.Resolution, error)
}

// ClientSource hands out generation clients by backend id.
// Satisfied by backend.Pool.
type ClientSource interface {
	Get(id string) (backend.Client, bool)
}

// VoteLog durably appends accepted votes. Satisfied by storage.VoteStore.
type VoteLog interface {
	Append(ctx context.Context, record *models.VoteRecord) error
}

// RatingSink receives committed votes for rating application.
// Satisfied by rating.Store.
type RatingSink interface {
	Submit(rec models.VoteRecord)
}

// TurnResult is the anonymized outcome of one arena turn
type TurnResult struct {
	SessionID string
	Turn      int
	Responses []models.AnonymousResponse
}

// VoteResult confirms an accepted vote and reveals the pair
type VoteResult struct {
	SessionID string
	Turn      int
	Outcome   models.Outcome
	Revealed  models.RevealedPair
}

// Manager owns all arena sessions
type Manager struct {
	registry *registry.Registry
	resolver Resolver
	clients  ClientSource
	voteLog  VoteLog
	ratings  RatingSink
	logger   *slog.Logger

	sessions *expirable.LRU[string, *Session]

	genTimeout time.Duration
	excluded   map[string]struct{}

	// shuffle decides the label assignment per turn; replaceable in tests
	shuffle func() bool

	// For time mocking in tests
	now func() time.Time
}

// Option configures the manager
type Option func(*config)

type config struct {
	sessionTTL  time.Duration
	maxSessions int
	genTimeout  time.Duration
	excluded    []string
	shuffle     func() bool
	now         func() time.Time
	logger      *slog.Logger
}

// WithSessionTTL sets the idle TTL after which sessions are reclaimed
func WithSessionTTL(d time.Duration) Option {
	return func(c *config) {
		c.sessionTTL = d
	}
}

// WithMaxSessions bounds the session cache
func WithMaxSessions(n int) Option {
	return func(c *config) {
		c.maxSessions = n
	}
}

// WithGenerationTimeout bounds each generation call
func WithGenerationTimeout(d time.Duration) Option {
	return func(c *config) {
		c.genTimeout = d
	}
}

// WithExcludedBackends removes backends from the pairing pool, e.g. the
// designated tool provider
func WithExcludedBackends(ids ...string) Option {
	return func(c *config) {
		c.excluded = append(c.excluded, ids...)
	}
}

// WithShuffleFunc sets the label assignment function (for testing)
func WithShuffleFunc(fn func() bool) Option {
	return func(c *config) {
		c.shuffle = fn
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(c *config) {
		c.now = fn
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// New creates a session manager
func New(reg *registry.Registry, resolver Resolver, clients ClientSource,
	voteLog VoteLog, ratings RatingSink, opts ...Option) *Manager {

	cfg := &config{
		sessionTTL:  DefaultSessionTTL,
		maxSessions: DefaultMaxSessions,
		genTimeout:  DefaultGenerationTimeout,
		shuffle:     func() bool { return rand.Intn(2) == 1 },
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	m := &Manager{
		registry:   reg,
		resolver:   resolver,
		clients:    clients,
		voteLog:    voteLog,
		ratings:    ratings,
		logger:     cfg.logger,
		genTimeout: cfg.genTimeout,
		excluded:   make(map[string]struct{}, len(cfg.excluded)),
		shuffle:    cfg.shuffle,
		now:        cfg.now,
	}
	for _, id := range cfg.excluded {
		m.excluded[id] = struct{}{}
	}

	m.sessions = expirable.NewLRU[string, *Session](cfg.maxSessions,
		func(key string, _ *Session) {
			metrics.RecordSessionExpired()
			metrics.SessionsActive.Set(float64(m.sessions.Len()))
			m.logger.Debug("arena session reclaimed", slog.String("session_id", key))
		}, cfg.sessionTTL)

	return m
}

// Turn runs one arena round: select a pair, generate both sides, return
// the anonymized results. The caller must vote before the next turn.
func (m *Manager) Turn(ctx context.Context, sessionID, prompt string) (*TurnResult, error) {
	sess := m.getOrCreate(sessionID)

	sess.mu.Lock()
	switch sess.state {
	case models.SessionAwaitingVote:
		sess.mu.Unlock()
		return nil, ErrVotePending
	case models.SessionAwaitingResponses:
		sess.mu.Unlock()
		return nil, ErrTurnInProgress
	}

	pair, resolutions, err := m.selectPair(ctx, sess)
	if err != nil {
		sess.mu.Unlock()
		return nil, err
	}

	sess.state = models.SessionAwaitingResponses
	sess.pair = pair
	sess.pendingSince = m.now()
	sess.lastUsed = m.now()
	sess.mu.Unlock()

	// Both sides generate concurrently with independent deadlines. Slot
	// handles are released as each call finishes, bounded by the per-call
	// timeout, never by the session TTL.
	results := m.generatePair(ctx, prompt, pair, resolutions)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.turn++
	sess.state = models.SessionAwaitingVote

	// Randomize the label assignment to avoid positional bias
	first, second := 0, 1
	if m.shuffle() {
		first, second = 1, 0
	}
	sess.modelByLabel = map[string]string{
		"A": pair[first],
		"B": pair[second],
	}

	responses := []models.AnonymousResponse{
		labeled("A", results[first]),
		labeled("B", results[second]),
	}

	metrics.RecordTurn()
	m.touch(sess)

	return &TurnResult{
		SessionID: sessionID,
		Turn:      sess.turn,
		Responses: responses,
	}, nil
}

// Vote records the verdict for the pending pair. Exactly one vote per
// turn: the first is committed and revealed, any repeat is rejected with
// no state change.
func (m *Manager) Vote(ctx context.Context, sessionID string, outcome models.Outcome) (*VoteResult, error) {
	sess, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != models.SessionAwaitingVote {
		if sess.turn > 0 && sess.votedTurn == sess.turn {
			metrics.RecordDuplicateVote()
			return nil, ErrDuplicateVote
		}
		return nil, ErrNoPendingVote
	}

	record := &models.VoteRecord{
		SessionID: sessionID,
		ModelA:    sess.modelByLabel["A"],
		ModelB:    sess.modelByLabel["B"],
		Outcome:   outcome,
		RequestID: requestIDFrom(ctx),
	}

	// Durable append first; only then does the vote exist
	if err := m.voteLog.Append(ctx, record); err != nil {
		return nil, err
	}
	m.ratings.Submit(*record)

	revealed := models.RevealedPair{
		A: record.ModelA,
		B: record.ModelB,
	}

	sess.votedTurn = sess.turn
	sess.votes++
	sess.lastPair = sess.pair
	sess.state = models.SessionIdle
	sess.modelByLabel = nil
	sess.lastUsed = m.now()

	metrics.RecordVote(string(outcome))
	logging.Audit(ctx, "vote_recorded",
		"session_id", sessionID,
		"turn", sess.turn,
		"model_a", record.ModelA,
		"model_b", record.ModelB,
		"outcome", string(outcome))

	m.touch(sess)

	return &VoteResult{
		SessionID: sessionID,
		Turn:      sess.turn,
		Outcome:   outcome,
		Revealed:  revealed,
	}, nil
}

// Get returns the API snapshot of a session
func (m *Manager) Get(sessionID string) (models.SessionView, error) {
	sess, ok := m.sessions.Get(sessionID)
	if !ok {
		return models.SessionView{}, ErrSessionNotFound
	}
	return sess.View(), nil
}

// ActiveSessions returns the number of live sessions
func (m *Manager) ActiveSessions() int {
	return m.sessions.Len()
}

func (m *Manager) getOrCreate(sessionID string) *Session {
	if sess, ok := m.sessions.Get(sessionID); ok {
		return sess
	}

	sess := newSession(sessionID, m.now())
	m.sessions.Add(sessionID, sess)
	metrics.SessionsActive.Set(float64(m.sessions.Len()))
	return sess
}

// touch refreshes the session's TTL. The cache expires entries a fixed
// interval after their last Add, so re-adding is the renewal.
func (m *Manager) touch(sess *Session) {
	m.sessions.Add(sess.id, sess)
}

// selectPair picks two distinct candidates via the session's rolling
// cursor and resolves both through the fallback policy. Candidates that
// fail to resolve are skipped; fewer than two resolvable candidates is a
// turn-level failure. Caller holds sess.mu.
func (m *Manager) selectPair(ctx context.Context, sess *Session) ([2]string, [2]*fallback.Resolution, error) {
	var pair [2]string
	var resolutions [2]*fallback.Resolution

	pool := m.candidatePool()
	if len(pool) < 2 {
		return pair, resolutions, ErrNoBackendsAvailable
	}

	// Skip the immediately preceding pair when the pool offers
	// alternatives; a two-model pool has to repeat.
	if len(pool) > 2 {
		proposed := [2]string{
			pool[sess.cursor%len(pool)],
			pool[(sess.cursor+1)%len(pool)],
		}
		if samePair(proposed, sess.lastPair) {
			sess.cursor++
		}
	}

	count := 0
	for i := 0; i < len(pool) && count < 2; i++ {
		candidate := pool[(sess.cursor+i)%len(pool)]
		if count == 1 && candidate == pair[0] {
			continue
		}

		res, err := m.resolver.Resolve(ctx, candidate)
		if err != nil {
			m.logger.Debug("pair candidate unresolvable, skipping",
				slog.String("model", candidate),
				slog.String("error", err.Error()))
			continue
		}

		pair[count] = candidate
		resolutions[count] = res
		count++
	}

	if count < 2 {
		// Release whatever was acquired for the incomplete pair
		for _, res := range resolutions {
			if res != nil {
				res.Release()
			}
		}
		return pair, resolutions, ErrNoBackendsAvailable
	}

	sess.cursor = (sess.cursor + 1) % len(pool)
	return pair, resolutions, nil
}

// candidatePool lists healthy arena-eligible backends, sorted by id
func (m *Manager) candidatePool() []string {
	var pool []string
	for _, b := range m.registry.ListHealthy() {
		if !b.ArenaEligible() {
			continue
		}
		if _, skip := m.excluded[b.ID]; skip {
			continue
		}
		pool = append(pool, b.ID)
	}
	return pool
}

// sideResult is one half of a generated pair
type sideResult struct {
	text     string
	timedOut bool
	fallback bool
}

// generatePair fans the prompt out to both resolved backends. Each side
// has an independent deadline; a side that fails or times out yields a
// placeholder instead of sinking the turn.
func (m *Manager) generatePair(ctx context.Context, prompt string, pair [2]string,
	resolutions [2]*fallback.Resolution) [2]sideResult {

	var results [2]sideResult
	var wg sync.WaitGroup

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.generateSide(ctx, prompt, pair[i], resolutions[i])
		}(i)
	}

	wg.Wait()
	return results
}

func (m *Manager) generateSide(ctx context.Context, prompt, requestedID string,
	res *fallback.Resolution) sideResult {

	defer res.Release()

	client, ok := m.clients.Get(res.Backend.ID)
	if !ok {
		m.logger.Error("no client for resolved backend",
			slog.String("backend", res.Backend.ID))
		return sideResult{text: timeoutPlaceholder, timedOut: true}
	}

	genCtx, cancel := context.WithTimeout(ctx, m.genTimeout)
	defer cancel()

	resp, err := client.Generate(genCtx, backend.GenerateRequest{Prompt: prompt})
	if err != nil {
		if backend.IsTimeout(err) {
			metrics.RecordTurnTimeout()
		}
		m.logger.Warn("generation failed",
			slog.String("requested", requestedID),
			slog.String("backend", res.Backend.ID),
			slog.String("error", err.Error()))
		return sideResult{text: timeoutPlaceholder, timedOut: true, fallback: res.Fallback}
	}

	return sideResult{text: resp.Text, fallback: res.Fallback}
}

func labeled(label string, r sideResult) models.AnonymousResponse {
	resp := models.AnonymousResponse{
		Label:    label,
		Text:     r.text,
		TimedOut: r.timedOut,
	}
	if r.fallback {
		resp.Note = fallbackNote
	}
	return resp
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(logging.RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// Package rating turns committed vote records into persistent ELO
// standings. A single applier goroutine reads the durable vote log in
// commit order, so updates to the same model can never race and no vote
// can be skipped regardless of submission order; the watermark makes
// every vote apply exactly once across restarts.
package rating

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/model-arena/model-arena/internal/logging"
	"github.com/model-arena/model-arena/internal/metrics"
	"github.com/model-arena/model-arena/internal/storage"
	"github.com/model-arena/model-arena/pkg/models"
)

const (
	// DefaultApplyRetries bounds attempts before a vote apply is parked.
	// A parked vote stays durable and the watermark stays put, so the next
	// applier wake or restart replay retries it.
	DefaultApplyRetries = 3

	// DefaultReplayBatch is how many votes one applier query pulls
	DefaultReplayBatch = 256

	retryBackoff = 50 * time.Millisecond
)

// Store consumes vote records and maintains the leaderboard
type Store struct {
	votes   *storage.VoteStore
	ratings *storage.RatingStore
	logger  *slog.Logger

	kFactor float64
	retries int

	// wake is a doorbell: the applier reads the vote log itself, Submit
	// only tells it there is new work
	wake chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures the rating store
type Option func(*Store)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithKFactor sets the ELO K-factor
func WithKFactor(k float64) Option {
	return func(s *Store) {
		s.kFactor = k
	}
}

// WithApplyRetries sets how often a failed apply is retried
func WithApplyRetries(n int) Option {
	return func(s *Store) {
		s.retries = n
	}
}

// New creates a rating store over the given persistence
func New(votes *storage.VoteStore, ratings *storage.RatingStore, opts ...Option) *Store {
	s := &Store{
		votes:   votes,
		ratings: ratings,
		logger:  slog.Default(),
		kFactor: DefaultKFactor,
		retries: DefaultApplyRetries,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start replays votes committed past the watermark, then starts the
// applier. Must complete before the server accepts traffic so standings
// never serve stale.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	replayed, err := s.replay(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("rating replay failed: %w", err)
	}
	if replayed > 0 {
		s.logger.Info("replayed unapplied votes",
			slog.Int("count", replayed))
	}

	go s.run(ctx)
	return nil
}

// Stop applies anything already committed and stops the applier
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Info("rating store stopping")
	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Submit signals the applier that a durably committed vote is ready. The
// applier reads the log itself in id order, so neither the submission
// order of concurrent voters nor a coalesced signal can skip a vote. Never
// blocks the voting path.
func (s *Store) Submit(_ models.VoteRecord) {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Standings returns the current leaderboard, best first
func (s *Store) Standings(ctx context.Context) ([]*models.Rating, error) {
	return s.ratings.List(ctx)
}

func (s *Store) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-s.wake:
			s.drain(ctx)
		case <-s.stopCh:
			// Apply anything committed before shutdown
			s.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain applies every vote committed past the watermark, in id order.
// Stops early on a persistently failing vote; the watermark stays put, so
// the next wake or restart replay resumes from that same vote.
func (s *Store) drain(ctx context.Context) {
	for {
		watermark, err := s.ratings.LastAppliedVoteID(ctx)
		if err != nil {
			s.logger.Error("failed to read rating cursor",
				slog.String("error", err.Error()))
			return
		}

		batch, err := s.votes.ListAfter(ctx, watermark, DefaultReplayBatch)
		if err != nil {
			s.logger.Error("failed to list unapplied votes",
				slog.String("error", err.Error()))
			return
		}
		if len(batch) == 0 {
			return
		}

		for _, rec := range batch {
			if !s.applyWithRetry(ctx, *rec) {
				return
			}
		}
	}
}

func (s *Store) applyWithRetry(ctx context.Context, rec models.VoteRecord) bool {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordRatingApplyRetry()
			time.Sleep(retryBackoff)
		}
		if err = s.apply(ctx, rec); err == nil {
			return true
		}
	}

	// Parked: the vote is durable and the watermark unmoved
	metrics.RecordRatingApplyFailure()
	s.logger.Error("rating apply abandoned after retries",
		slog.Int64("vote_id", rec.ID),
		slog.String("error", err.Error()))
	return false
}

// apply performs one vote's rating update in a single transaction
func (s *Store) apply(ctx context.Context, rec models.VoteRecord) error {
	ratingA, err := s.ratings.GetOrInitial(ctx, rec.ModelA)
	if err != nil {
		return err
	}
	ratingB, err := s.ratings.GetOrInitial(ctx, rec.ModelB)
	if err != nil {
		return err
	}

	deltaA, deltaB := Deltas(ratingA.Score, ratingB.Score, rec.Outcome, s.kFactor)
	ratingA.Score += deltaA
	ratingB.Score += deltaB
	ratingA.Games++
	ratingB.Games++

	switch rec.Outcome {
	case models.OutcomeAWins:
		ratingA.Wins++
		ratingB.Losses++
	case models.OutcomeBWins:
		ratingB.Wins++
		ratingA.Losses++
	case models.OutcomeTie:
		ratingA.Ties++
		ratingB.Ties++
	case models.OutcomeBothBad:
		ratingA.BothBad++
		ratingB.BothBad++
	}

	if err := s.ratings.ApplyTx(ctx, ratingA, ratingB, rec.ID); err != nil {
		return err
	}

	metrics.RecordRatingApply()
	logging.Audit(ctx, "rating_applied",
		"vote_id", rec.ID,
		"model_a", rec.ModelA,
		"model_b", rec.ModelB,
		"outcome", string(rec.Outcome),
		"delta_a", deltaA,
		"delta_b", deltaB)

	return nil
}

// replay applies every vote committed past the watermark, in id order
func (s *Store) replay(ctx context.Context) (int, error) {
	applied := 0
	for {
		watermark, err := s.ratings.LastAppliedVoteID(ctx)
		if err != nil {
			return applied, err
		}

		batch, err := s.votes.ListAfter(ctx, watermark, DefaultReplayBatch)
		if err != nil {
			return applied, err
		}
		if len(batch) == 0 {
			return applied, nil
		}

		for _, rec := range batch {
			if err := s.apply(ctx, *rec); err != nil {
				return applied, err
			}
			applied++
		}
	}
}

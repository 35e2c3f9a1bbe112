package rating

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-arena/model-arena/internal/storage"
	"github.com/model-arena/model-arena/pkg/models"
)

func newTestStores(t *testing.T) (*storage.VoteStore, *storage.RatingStore, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ratings.db")
	db, err := storage.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	return storage.NewVoteStore(db), storage.NewRatingStore(db), dbPath
}

func appendVote(t *testing.T, votes *storage.VoteStore, outcome models.Outcome) models.VoteRecord {
	t.Helper()
	rec := models.VoteRecord{
		SessionID: "sess-1",
		ModelA:    "llama-gpu",
		ModelB:    "mistral-gpu",
		Outcome:   outcome,
	}
	require.NoError(t, votes.Append(context.Background(), &rec))
	return rec
}

func waitForGames(t *testing.T, s *Store, modelID string, games int) *models.Rating {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		standings, err := s.Standings(context.Background())
		require.NoError(t, err)
		for _, r := range standings {
			if r.ModelID == modelID && r.Games >= games {
				return r
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("model %s never reached %d games", modelID, games)
	return nil
}

func TestStore_ApplyWin(t *testing.T) {
	votes, ratings, _ := newTestStores(t)
	s := New(votes, ratings, WithKFactor(32))

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	rec := appendVote(t, votes, models.OutcomeAWins)
	s.Submit(rec)

	a := waitForGames(t, s, "llama-gpu", 1)
	assert.InDelta(t, 1516, a.Score, 0.01)
	assert.Equal(t, 1, a.Wins)

	b := waitForGames(t, s, "mistral-gpu", 1)
	assert.InDelta(t, 1484, b.Score, 0.01)
	assert.Equal(t, 1, b.Losses)
}

func TestStore_TieAtEqualRatingsUnchanged(t *testing.T) {
	votes, ratings, _ := newTestStores(t)
	s := New(votes, ratings)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	rec := appendVote(t, votes, models.OutcomeTie)
	s.Submit(rec)

	a := waitForGames(t, s, "llama-gpu", 1)
	assert.InDelta(t, 1500, a.Score, 0.01)
	assert.Equal(t, 1, a.Ties)
}

func TestStore_BothBadRecordsNoDelta(t *testing.T) {
	votes, ratings, _ := newTestStores(t)
	s := New(votes, ratings)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	rec := appendVote(t, votes, models.OutcomeBothBad)
	s.Submit(rec)

	a := waitForGames(t, s, "llama-gpu", 1)
	assert.InDelta(t, 1500, a.Score, 0.01)
	assert.Equal(t, 1, a.BothBad)
	assert.Equal(t, 1, a.Games)
}

func TestStore_ReplayFromWatermark(t *testing.T) {
	votes, ratings, _ := newTestStores(t)
	ctx := context.Background()

	// Votes committed with no applier running
	appendVote(t, votes, models.OutcomeAWins)
	appendVote(t, votes, models.OutcomeAWins)

	s := New(votes, ratings, WithKFactor(32))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	// Start's replay applied both before returning
	a, err := ratings.Get(ctx, "llama-gpu")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Games)
	assert.Equal(t, 2, a.Wins)

	watermark, err := ratings.LastAppliedVoteID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), watermark)
}

func TestStore_RestartDoesNotDoubleApply(t *testing.T) {
	votes, ratings, _ := newTestStores(t)
	ctx := context.Background()

	rec := appendVote(t, votes, models.OutcomeAWins)

	s := New(votes, ratings)
	require.NoError(t, s.Start(ctx))
	s.Submit(rec)
	waitForGames(t, s, "llama-gpu", 1)
	s.Stop()

	// Second lifetime over the same database
	s2 := New(votes, ratings)
	require.NoError(t, s2.Start(ctx))
	defer s2.Stop()

	a, err := ratings.Get(ctx, "llama-gpu")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Games, "replay must not re-apply past the watermark")
}

func TestStore_SerializedApplyOrder(t *testing.T) {
	votes, ratings, _ := newTestStores(t)
	ctx := context.Background()

	s := New(votes, ratings, WithKFactor(32))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	// Many votes touching the same models, submitted in commit order
	for i := 0; i < 20; i++ {
		outcome := models.OutcomeAWins
		if i%2 == 1 {
			outcome = models.OutcomeBWins
		}
		rec := appendVote(t, votes, outcome)
		s.Submit(rec)
	}

	a := waitForGames(t, s, "llama-gpu", 20)
	assert.Equal(t, 10, a.Wins)
	assert.Equal(t, 10, a.Losses)

	watermark, err := ratings.LastAppliedVoteID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), watermark)
}

func TestStore_InvertedSubmitOrderLosesNoVote(t *testing.T) {
	votes, ratings, _ := newTestStores(t)
	ctx := context.Background()

	s := New(votes, ratings, WithKFactor(32))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	rec1 := appendVote(t, votes, models.OutcomeAWins)
	rec2 := appendVote(t, votes, models.OutcomeBWins)

	// Concurrent sessions can signal in any order relative to their
	// committed ids; the applier reads the log itself, so both must land
	s.Submit(rec2)
	s.Submit(rec1)

	a := waitForGames(t, s, "llama-gpu", 2)
	assert.Equal(t, 1, a.Wins)
	assert.Equal(t, 1, a.Losses)

	watermark, err := ratings.LastAppliedVoteID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), watermark)
}

func TestStore_CoalescedSignalDrainsBacklog(t *testing.T) {
	votes, ratings, _ := newTestStores(t)

	s := New(votes, ratings)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	var last models.VoteRecord
	for i := 0; i < 5; i++ {
		last = appendVote(t, votes, models.OutcomeAWins)
	}

	// One signal for five committed votes
	s.Submit(last)

	a := waitForGames(t, s, "llama-gpu", 5)
	assert.Equal(t, 5, a.Wins)
}

func TestStore_StartIdempotent(t *testing.T) {
	votes, ratings, _ := newTestStores(t)

	s := New(votes, ratings)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}

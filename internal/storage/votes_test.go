package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-arena/model-arena/pkg/models"
)

func testVote(session string) *models.VoteRecord {
	return &models.VoteRecord{
		SessionID: session,
		ModelA:    "llama-gpu",
		ModelB:    "mistral-gpu",
		Outcome:   models.OutcomeAWins,
		RequestID: "req-1",
	}
}

func TestVoteStore_Append(t *testing.T) {
	db := newTestDB(t)
	store := NewVoteStore(db)
	ctx := context.Background()

	record := testVote("sess-1")
	require.NoError(t, store.Append(ctx, record))

	// ID assigned from the insert
	assert.Equal(t, int64(1), record.ID)
	assert.False(t, record.CreatedAt.IsZero())

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, models.OutcomeAWins, got.Outcome)
	assert.Equal(t, "llama-gpu", got.ModelA)
}

func TestVoteStore_Append_Invalid(t *testing.T) {
	db := newTestDB(t)
	store := NewVoteStore(db)

	record := testVote("sess-1")
	record.ModelB = record.ModelA // self-pair

	err := store.Append(context.Background(), record)
	assert.Error(t, err)
}

func TestVoteStore_Append_IDsMonotonic(t *testing.T) {
	db := newTestDB(t)
	store := NewVoteStore(db)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		record := testVote(fmt.Sprintf("sess-%d", i))
		require.NoError(t, store.Append(ctx, record))
		assert.Greater(t, record.ID, last)
		last = record.ID
	}
}

func TestVoteStore_Get_NotFound(t *testing.T) {
	db := newTestDB(t)
	store := NewVoteStore(db)

	_, err := store.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVoteStore_ListAfter(t *testing.T) {
	db := newTestDB(t)
	store := NewVoteStore(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, testVote(fmt.Sprintf("sess-%d", i))))
	}

	records, err := store.ListAfter(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int64(3), records[0].ID)
	assert.Equal(t, int64(5), records[2].ID)

	// Limit respected
	records, err = store.ListAfter(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestVoteStore_ListBySession(t *testing.T) {
	db := newTestDB(t)
	store := NewVoteStore(db)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, testVote("sess-a")))
	require.NoError(t, store.Append(ctx, testVote("sess-b")))
	require.NoError(t, store.Append(ctx, testVote("sess-a")))

	records, err := store.ListBySession(ctx, "sess-a")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestVoteStore_Count(t *testing.T) {
	db := newTestDB(t)
	store := NewVoteStore(db)
	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, store.Append(ctx, testVote("sess-1")))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

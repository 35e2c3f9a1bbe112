package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/model-arena/model-arena/pkg/models"
)

// RatingStore handles persistent ELO standings and the apply watermark
type RatingStore struct {
	db *DB
}

// NewRatingStore creates a new rating store
func NewRatingStore(db *DB) *RatingStore {
	return &RatingStore{db: db}
}

// Get returns one model's rating
func (s *RatingStore) Get(ctx context.Context, modelID string) (*models.Rating, error) {
	query := `
		SELECT model_id, score, games, wins, losses, ties, both_bad, updated_at
		FROM ratings WHERE model_id = ?
	`

	var r models.Rating
	err := s.db.QueryRowContext(ctx, query, modelID).Scan(
		&r.ModelID, &r.Score, &r.Games, &r.Wins, &r.Losses, &r.Ties, &r.BothBad, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rating: %w", err)
	}

	return &r, nil
}

// GetOrInitial returns the model's rating, or a fresh one at the initial
// score if it has never been rated
func (s *RatingStore) GetOrInitial(ctx context.Context, modelID string) (*models.Rating, error) {
	r, err := s.Get(ctx, modelID)
	if errors.Is(err, ErrNotFound) {
		return &models.Rating{ModelID: modelID, Score: models.InitialScore}, nil
	}
	return r, err
}

// List returns all ratings ordered by score descending, model id ascending
// as the deterministic secondary key
func (s *RatingStore) List(ctx context.Context) ([]*models.Rating, error) {
	query := `
		SELECT model_id, score, games, wins, losses, ties, both_bad, updated_at
		FROM ratings ORDER BY score DESC, model_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	defer rows.Close()

	var ratings []*models.Rating
	for rows.Next() {
		var r models.Rating
		if err := rows.Scan(&r.ModelID, &r.Score, &r.Games, &r.Wins, &r.Losses,
			&r.Ties, &r.BothBad, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		ratings = append(ratings, &r)
	}

	return ratings, rows.Err()
}

// ApplyTx upserts both sides of a pair and advances the watermark in one
// transaction. Either all three writes commit or none do, so a vote can
// never be half-applied or applied twice across restarts.
func (s *RatingStore) ApplyTx(ctx context.Context, a, b *models.Rating, lastVoteID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rating tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, r := range []*models.Rating{a, b} {
		r.UpdatedAt = now
		if err := upsertRating(ctx, tx, r); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE rating_cursor SET last_vote_id = ? WHERE id = 1 AND last_vote_id < ?`,
		lastVoteID, lastVoteID)
	if err != nil {
		return fmt.Errorf("failed to advance rating cursor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cursor update: %w", err)
	}
	if affected == 0 {
		// Vote already applied (replay raced a live apply); abort the tx
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rating tx: %w", err)
	}

	return nil
}

// LastAppliedVoteID returns the rating apply watermark
func (s *RatingStore) LastAppliedVoteID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_vote_id FROM rating_cursor WHERE id = 1`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read rating cursor: %w", err)
	}
	return id, nil
}

func upsertRating(ctx context.Context, tx *sql.Tx, r *models.Rating) error {
	query := `
		INSERT INTO ratings (model_id, score, games, wins, losses, ties, both_bad, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			score = excluded.score,
			games = excluded.games,
			wins = excluded.wins,
			losses = excluded.losses,
			ties = excluded.ties,
			both_bad = excluded.both_bad,
			updated_at = excluded.updated_at
	`

	_, err := tx.ExecContext(ctx, query,
		r.ModelID, r.Score, r.Games, r.Wins, r.Losses, r.Ties, r.BothBad, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rating for %s: %w", r.ModelID, err)
	}
	return nil
}

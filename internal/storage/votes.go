package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/model-arena/model-arena/pkg/models"
)

// VoteStore handles the append-only vote log
type VoteStore struct {
	db *DB
}

// NewVoteStore creates a new vote store
func NewVoteStore(db *DB) *VoteStore {
	return &VoteStore{db: db}
}

// Append durably commits one vote record and fills in its assigned id.
// Records are never updated or deleted; the assigned id is the order the
// rating store applies them in.
func (s *VoteStore) Append(ctx context.Context, record *models.VoteRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid vote record: %w", err)
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO votes (session_id, model_a, model_b, outcome, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		record.SessionID,
		record.ModelA,
		record.ModelB,
		string(record.Outcome),
		record.RequestID,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append vote: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read vote id: %w", err)
	}
	record.ID = id

	return nil
}

// Get returns one vote record by id
func (s *VoteStore) Get(ctx context.Context, id int64) (*models.VoteRecord, error) {
	query := `
		SELECT id, session_id, model_a, model_b, outcome, request_id, created_at
		FROM votes WHERE id = ?
	`

	record, err := scanVote(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListAfter returns up to limit votes with id > afterID, in id order.
// Used by the rating store's startup replay.
func (s *VoteStore) ListAfter(ctx context.Context, afterID int64, limit int) ([]*models.VoteRecord, error) {
	query := `
		SELECT id, session_id, model_a, model_b, outcome, request_id, created_at
		FROM votes WHERE id > ? ORDER BY id ASC LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var records []*models.VoteRecord
	for rows.Next() {
		record, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// ListBySession returns every vote for a session, oldest first
func (s *VoteStore) ListBySession(ctx context.Context, sessionID string) ([]*models.VoteRecord, error) {
	query := `
		SELECT id, session_id, model_a, model_b, outcome, request_id, created_at
		FROM votes WHERE session_id = ? ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session votes: %w", err)
	}
	defer rows.Close()

	var records []*models.VoteRecord
	for rows.Next() {
		record, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Count returns the total number of recorded votes
func (s *VoteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanVote(row scanner) (*models.VoteRecord, error) {
	var record models.VoteRecord
	var outcome string

	err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.ModelA,
		&record.ModelB,
		&outcome,
		&record.RequestID,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan vote: %w", err)
	}

	record.Outcome = models.Outcome(outcome)
	return &record, nil
}

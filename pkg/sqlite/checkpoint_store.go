package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/plaenen/taskstream/pkg/domain"
)

// CheckpointStore persists per-consumer change-feed positions, so the
// relay resumes where it left off after a restart.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore creates a checkpoint store on an Open-ed database.
func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Position returns the consumer's last saved position, 0 when none.
func (s *CheckpointStore) Position(ctx context.Context, consumer string) (int64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx,
		`SELECT position FROM checkpoints WHERE consumer = ?`, consumer,
	).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query checkpoint: %w", err)
	}
	return position, nil
}

// SavePosition upserts the consumer's position.
func (s *CheckpointStore) SavePosition(ctx context.Context, consumer string, position int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (consumer, position, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (consumer) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at`,
		consumer, position, domain.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

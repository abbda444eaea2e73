package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/plaenen/taskstream/pkg/eventsourcing"
)

// SnapshotStore implements eventsourcing.SnapshotStore on SQLite.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a snapshot store on an Open-ed database.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveSnapshot persists a snapshot for an aggregate, replacing any
// snapshot at the same version.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snapshot *eventsourcing.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id, version) DO UPDATE SET
			state = excluded.state,
			created_at = excluded.created_at`,
		snapshot.AggregateID, snapshot.AggregateType, snapshot.Version,
		snapshot.State, snapshot.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot retrieves the most recent snapshot for an aggregate.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, aggregateID string) (*eventsourcing.Snapshot, error) {
	var (
		snap      eventsourcing.Snapshot
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = ?
		ORDER BY version DESC
		LIMIT 1`,
		aggregateID,
	).Scan(&snap.AggregateID, &snap.AggregateType, &snap.Version, &snap.State, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventsourcing.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	return &snap, nil
}

// DeleteOldSnapshots removes snapshots strictly older than the given
// version for an aggregate.
func (s *SnapshotStore) DeleteOldSnapshots(ctx context.Context, aggregateID string, olderThanVersion int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE aggregate_id = ? AND version < ?`,
		aggregateID, olderThanVersion,
	)
	if err != nil {
		return fmt.Errorf("delete old snapshots: %w", err)
	}
	return nil
}

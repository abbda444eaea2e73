package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/plaenen/taskstream/pkg/changefeed"
	"github.com/plaenen/taskstream/pkg/domain"
)

// EventStore is a SQLite-backed append-only event log with optimistic
// concurrency and a globally ordered change feed.
type EventStore struct {
	db *sql.DB
	mu sync.Mutex // serializes append transactions
}

// NewEventStore creates an event store on an Open-ed database.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// AppendEvents appends events atomically. The append is rejected with
// domain.ErrConcurrencyConflict when the aggregate's persisted sequence
// has advanced past expectedVersion: two concurrent commands against
// the same aggregate can never both commit at the same sequence.
func (s *EventStore) AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("check current version: %w", err)
	}
	if current != expectedVersion {
		return domain.ErrConcurrencyConflict
	}

	for i, evt := range events {
		want := expectedVersion + int64(i) + 1
		if evt.Sequence != want {
			return fmt.Errorf("event sequence %d out of order, want %d", evt.Sequence, want)
		}
		metadata, err := json.Marshal(evt.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (aggregate_id, aggregate_type, sequence, event_type, event_version, timestamp, payload, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.AggregateID, evt.AggregateType, evt.Sequence,
			evt.EventType, evt.EventVersion, evt.Timestamp.UnixNano(),
			evt.Payload, string(metadata),
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	return tx.Commit()
}

// LoadEvents loads events for an aggregate with sequence > afterSequence.
func (s *EventStore) LoadEvents(ctx context.Context, aggregateID string, afterSequence int64) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aggregate_id, aggregate_type, sequence, event_type, event_version, timestamp, payload, metadata
		FROM events
		WHERE aggregate_id = ? AND sequence > ?
		ORDER BY sequence`,
		aggregateID, afterSequence,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// LoadFeed returns up to limit committed events with position >
// fromPosition, in commit order across all aggregates. It is the
// change feed the relay forwards to the stream.
func (s *EventStore) LoadFeed(ctx context.Context, fromPosition int64, limit int) ([]changefeed.FeedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, aggregate_id, aggregate_type, sequence, event_type, event_version, timestamp, payload, metadata
		FROM events
		WHERE position > ?
		ORDER BY position
		LIMIT ?`,
		fromPosition, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	var entries []changefeed.FeedEntry
	for rows.Next() {
		var (
			position  int64
			timestamp int64
			metadata  string
			evt       domain.Event
		)
		err := rows.Scan(&position, &evt.AggregateID, &evt.AggregateType, &evt.Sequence,
			&evt.EventType, &evt.EventVersion, &timestamp, &evt.Payload, &metadata)
		if err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		evt.Timestamp = time.Unix(0, timestamp).UTC()
		if err := json.Unmarshal([]byte(metadata), &evt.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata at position %d: %w", position, err)
		}
		entries = append(entries, changefeed.FeedEntry{Position: position, Event: &evt})
	}
	return entries, rows.Err()
}

func scanEvent(rows *sql.Rows) (*domain.Event, error) {
	var (
		timestamp int64
		metadata  string
		evt       domain.Event
	)
	err := rows.Scan(&evt.AggregateID, &evt.AggregateType, &evt.Sequence,
		&evt.EventType, &evt.EventVersion, &timestamp, &evt.Payload, &metadata)
	if err != nil {
		return nil, fmt.Errorf("scan event row: %w", err)
	}
	evt.Timestamp = time.Unix(0, timestamp).UTC()
	if err := json.Unmarshal([]byte(metadata), &evt.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal event metadata: %w", err)
	}
	return &evt, nil
}

// Package eventsourcing contains the generic write path: the aggregate
// contract, the capability interfaces the core depends on, the command
// executor and the view projector. It knows nothing about any concrete
// aggregate; pkg/tasks instantiates it for the Task family.
package eventsourcing

import (
	"context"
	"errors"
	"time"

	"github.com/plaenen/taskstream/pkg/domain"
)

// ErrSnapshotNotFound is returned when a snapshot cannot be found.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// EventStore defines the interface for persisting and retrieving events.
type EventStore interface {
	// AppendEvents appends events to an aggregate's stream atomically.
	// Returns domain.ErrConcurrencyConflict if expectedVersion doesn't
	// match the aggregate's current persisted sequence.
	AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, events []*domain.Event) error

	// LoadEvents loads events for an aggregate with Sequence > afterSequence,
	// in sequence order.
	LoadEvents(ctx context.Context, aggregateID string, afterSequence int64) ([]*domain.Event, error)
}

// Snapshot is a serialized aggregate state at a specific version. It is
// a replay-acceleration cache, never authoritative: a missing or
// corrupted snapshot affects replay latency only, never correctness.
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       int64
	State         []byte
	CreatedAt     time.Time
}

// SnapshotStore defines the interface for snapshot persistence.
type SnapshotStore interface {
	// SaveSnapshot persists a snapshot for an aggregate.
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error

	// LatestSnapshot retrieves the most recent snapshot for an
	// aggregate. Returns ErrSnapshotNotFound when none exists.
	LatestSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)

	// DeleteOldSnapshots removes snapshots strictly older than the
	// given version for an aggregate.
	DeleteOldSnapshots(ctx context.Context, aggregateID string, olderThanVersion int64) error
}

// ViewContext is the write-context token for a view row. A row can only
// be written back with the context it was loaded with; a stale token
// means a concurrent writer won.
type ViewContext struct {
	ViewID  string
	Version int64
}

// ViewRepository persists denormalized read-model rows of type V.
type ViewRepository[V any] interface {
	// LoadWithContext loads the view row and its write context.
	// found is false when no row exists yet.
	LoadWithContext(ctx context.Context, id string) (view *V, vc ViewContext, found bool, err error)

	// UpdateView persists the row in one conditional write. Returns
	// domain.ErrViewConflict when the context token is stale.
	UpdateView(ctx context.Context, view *V, vc ViewContext) error
}

package eventsourcing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/plaenen/taskstream/pkg/domain"
	"github.com/plaenen/taskstream/pkg/observability"
)

const (
	// DefaultSnapshotEvery is the number of committed events between snapshots.
	DefaultSnapshotEvery int64 = 5

	// DefaultConflictRetries is how many times a command is re-run
	// against freshly loaded state after a concurrency conflict.
	DefaultConflictRetries = 3
)

// ExecutorConfig holds the executor's tunables. The zero value gets
// defaults applied.
type ExecutorConfig struct {
	// SnapshotEvery is the snapshot interval in events. Ignored when no
	// snapshot store is configured.
	SnapshotEvery int64

	// ConflictRetries bounds reload-and-retry on concurrency conflicts.
	ConflictRetries int

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = DefaultSnapshotEvery
	}
	if c.ConflictRetries <= 0 {
		c.ConflictRetries = DefaultConflictRetries
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Executor drives one aggregate family through the write path:
// load (snapshot + events) → Decide → append with optimistic
// concurrency → snapshot every N events → dispatch committed events to
// the registered queries.
//
// Instantiate once per aggregate type and share: the executor itself is
// stateless, all state lives in the stores.
type Executor[C any, E EventPayload, A Aggregate[C, E]] struct {
	store         EventStore
	snapshots     SnapshotStore // nil disables snapshotting
	factory       func() A
	decode        PayloadDecoder[E]
	queries       []Query
	aggregateType string
	cfg           ExecutorConfig
}

// NewExecutor creates an executor for one aggregate family.
// factory returns a zero-state aggregate; decode maps stored event
// types back to payloads; snapshots may be nil.
func NewExecutor[C any, E EventPayload, A Aggregate[C, E]](
	store EventStore,
	snapshots SnapshotStore,
	factory func() A,
	decode PayloadDecoder[E],
	queries []Query,
	cfg ExecutorConfig,
) *Executor[C, E, A] {
	return &Executor[C, E, A]{
		store:         store,
		snapshots:     snapshots,
		factory:       factory,
		decode:        decode,
		queries:       queries,
		aggregateType: factory().AggregateType(),
		cfg:           cfg.withDefaults(),
	}
}

// Execute runs one command against the aggregate identified by
// aggregateID. On a concurrency conflict the command is re-decided
// against freshly loaded state; the conflict is surfaced only when
// retries are exhausted. Domain errors from Decide are returned as-is
// and never retried.
//
// metadata may be nil; a command id is generated when absent so the
// view row can always record the last command that touched it.
func (x *Executor[C, E, A]) Execute(ctx context.Context, aggregateID string, cmd C, metadata domain.Metadata) ([]*domain.Event, error) {
	// Copied so defaulting the command id never mutates the caller's map.
	md := make(domain.Metadata, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	if md[domain.MetadataCommandID] == "" {
		md[domain.MetadataCommandID] = uuid.NewString()
	}
	metadata = md

	var lastErr error
	for attempt := 0; attempt < x.cfg.ConflictRetries; attempt++ {
		events, err := x.attempt(ctx, aggregateID, cmd, metadata)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			x.cfg.Logger.Debug("concurrency conflict, retrying command",
				"aggregate_id", aggregateID, "attempt", attempt+1)
			lastErr = err
			continue
		}
		x.cfg.Metrics.RecordCommand(ctx, x.aggregateType, err)
		return events, err
	}
	x.cfg.Metrics.RecordCommand(ctx, x.aggregateType, lastErr)
	return nil, lastErr
}

func (x *Executor[C, E, A]) attempt(ctx context.Context, aggregateID string, cmd C, metadata domain.Metadata) ([]*domain.Event, error) {
	agg, version, err := x.Load(ctx, aggregateID)
	if err != nil {
		return nil, err
	}

	payloads, err := agg.Decide(cmd)
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, nil
	}

	events := make([]*domain.Event, len(payloads))
	for i, p := range payloads {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		events[i] = &domain.Event{
			AggregateID:   aggregateID,
			AggregateType: agg.AggregateType(),
			Sequence:      version + int64(i) + 1,
			EventType:     p.EventType(),
			EventVersion:  p.EventVersion(),
			Timestamp:     domain.Now(),
			Payload:       data,
			Metadata:      metadata,
		}
	}

	if err := x.store.AppendEvents(ctx, aggregateID, version, events); err != nil {
		return nil, err
	}
	x.cfg.Metrics.RecordAppend(ctx, len(events))

	newVersion := version + int64(len(payloads))
	for _, p := range payloads {
		agg.Apply(p)
	}
	x.maybeSnapshot(ctx, aggregateID, agg, version, newVersion)

	for _, q := range x.queries {
		q.Dispatch(ctx, aggregateID, events)
	}
	return events, nil
}

// Load materializes the aggregate's current state and version, using
// the latest snapshot when one is readable and replaying the remaining
// events. A missing or unreadable snapshot falls back to full replay.
func (x *Executor[C, E, A]) Load(ctx context.Context, aggregateID string) (A, int64, error) {
	agg := x.factory()
	version := int64(0)

	if x.snapshots != nil {
		snap, err := x.snapshots.LatestSnapshot(ctx, aggregateID)
		switch {
		case err == nil:
			if uerr := json.Unmarshal(snap.State, agg); uerr != nil {
				x.cfg.Logger.Warn("discarding unreadable snapshot",
					"aggregate_id", aggregateID, "version", snap.Version, "error", uerr)
				agg = x.factory()
			} else {
				version = snap.Version
			}
		case errors.Is(err, ErrSnapshotNotFound):
			// full replay
		default:
			x.cfg.Logger.Warn("snapshot load failed, replaying from scratch",
				"aggregate_id", aggregateID, "error", err)
		}
	}

	events, err := x.store.LoadEvents(ctx, aggregateID, version)
	if err != nil {
		var zero A
		return zero, 0, fmt.Errorf("load events: %w", err)
	}
	for _, evt := range events {
		payload, err := x.decode(evt.EventType, evt.Payload)
		if err != nil {
			var zero A
			return zero, 0, fmt.Errorf("decode event %s at sequence %d: %w", evt.EventType, evt.Sequence, err)
		}
		agg.Apply(payload)
		version = evt.Sequence
	}
	return agg, version, nil
}

// maybeSnapshot persists a snapshot when the commit crossed a snapshot
// boundary. Snapshot failures are logged only: the log is authoritative
// and a lost snapshot costs replay time, not correctness.
func (x *Executor[C, E, A]) maybeSnapshot(ctx context.Context, aggregateID string, agg A, oldVersion, newVersion int64) {
	if x.snapshots == nil {
		return
	}
	every := x.cfg.SnapshotEvery
	if newVersion/every == oldVersion/every {
		return
	}
	state, err := json.Marshal(agg)
	if err != nil {
		x.cfg.Logger.Error("snapshot marshal failed", "aggregate_id", aggregateID, "error", err)
		return
	}
	snap := &Snapshot{
		AggregateID:   aggregateID,
		AggregateType: agg.AggregateType(),
		Version:       newVersion,
		State:         state,
		CreatedAt:     domain.Now(),
	}
	if err := x.snapshots.SaveSnapshot(ctx, snap); err != nil {
		x.cfg.Logger.Error("snapshot save failed", "aggregate_id", aggregateID, "error", err)
		return
	}
	x.cfg.Metrics.RecordSnapshot(ctx)
	if err := x.snapshots.DeleteOldSnapshots(ctx, aggregateID, newVersion); err != nil {
		x.cfg.Logger.Warn("snapshot compaction failed", "aggregate_id", aggregateID, "error", err)
	}
}

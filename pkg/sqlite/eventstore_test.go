package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/plaenen/taskstream/pkg/domain"
	"github.com/plaenen/taskstream/pkg/sqlite"
)

func openTestDB(t *testing.T) *sqlite.EventStore {
	t.Helper()
	db, err := sqlite.Open(sqlite.WithMemoryDatabase())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlite.NewEventStore(db)
}

func testEvent(aggregateID string, sequence int64) *domain.Event {
	return &domain.Event{
		AggregateID:   aggregateID,
		AggregateType: "Task",
		Sequence:      sequence,
		EventType:     "Task:Created",
		EventVersion:  "1.0",
		Timestamp:     domain.Now(),
		Payload:       []byte(`{"id":"` + aggregateID + `"}`),
		Metadata:      domain.Metadata{domain.MetadataCommandID: "cmd-1"},
	}
}

func TestEventStore_AppendAndLoad(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	events := []*domain.Event{testEvent("t1", 1), testEvent("t1", 2)}
	if err := store.AppendEvents(ctx, "t1", 0, events); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	loaded, err := store.LoadEvents(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded))
	}
	for i, evt := range loaded {
		if evt.Sequence != int64(i+1) {
			t.Errorf("event %d: sequence = %d, want %d", i, evt.Sequence, i+1)
		}
		if evt.Metadata.CommandID() != "cmd-1" {
			t.Errorf("event %d: command id = %q, want cmd-1", i, evt.Metadata.CommandID())
		}
	}

	// Load after a sequence skips earlier events.
	tail, err := store.LoadEvents(ctx, "t1", 1)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(tail) != 1 || tail[0].Sequence != 2 {
		t.Fatalf("expected only sequence 2, got %+v", tail)
	}
}

func TestEventStore_ConcurrencyConflict(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	if err := store.AppendEvents(ctx, "t1", 0, []*domain.Event{testEvent("t1", 1)}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// A second writer that loaded version 0 must lose.
	err := store.AppendEvents(ctx, "t1", 0, []*domain.Event{testEvent("t1", 1)})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}

	// The winning writer's history is intact.
	loaded, err := store.LoadEvents(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 event, got %d", len(loaded))
	}
}

func TestEventStore_RejectsOutOfOrderSequence(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	err := store.AppendEvents(ctx, "t1", 0, []*domain.Event{testEvent("t1", 2)})
	if err == nil {
		t.Fatal("expected error for sequence gap")
	}
}

func TestEventStore_StreamsAreIndependent(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	if err := store.AppendEvents(ctx, "t1", 0, []*domain.Event{testEvent("t1", 1)}); err != nil {
		t.Fatalf("append t1 failed: %v", err)
	}
	if err := store.AppendEvents(ctx, "t2", 0, []*domain.Event{testEvent("t2", 1)}); err != nil {
		t.Fatalf("append t2 failed: %v", err)
	}

	loaded, err := store.LoadEvents(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].AggregateID != "t1" {
		t.Fatalf("unexpected events for t1: %+v", loaded)
	}
}

func TestEventStore_LoadFeed(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	if err := store.AppendEvents(ctx, "t1", 0, []*domain.Event{testEvent("t1", 1), testEvent("t1", 2)}); err != nil {
		t.Fatalf("append t1 failed: %v", err)
	}
	if err := store.AppendEvents(ctx, "t2", 0, []*domain.Event{testEvent("t2", 1)}); err != nil {
		t.Fatalf("append t2 failed: %v", err)
	}

	entries, err := store.LoadFeed(ctx, 0, 10)
	if err != nil {
		t.Fatalf("load feed failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Position != int64(i+1) {
			t.Errorf("entry %d: position = %d, want %d", i, entry.Position, i+1)
		}
	}

	// Resume from a checkpoint.
	tail, err := store.LoadFeed(ctx, entries[1].Position, 10)
	if err != nil {
		t.Fatalf("load feed failed: %v", err)
	}
	if len(tail) != 1 || tail[0].Event.AggregateID != "t2" {
		t.Fatalf("unexpected tail: %+v", tail)
	}

	// Limit bounds the batch.
	limited, err := store.LoadFeed(ctx, 0, 2)
	if err != nil {
		t.Fatalf("load feed failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(limited))
	}
}

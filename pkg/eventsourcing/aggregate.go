package eventsourcing

import (
	"context"

	"github.com/plaenen/taskstream/pkg/domain"
)

// EventPayload is implemented by every domain event payload.
type EventPayload interface {
	// EventType returns the qualified event name, e.g. "Task:Created".
	EventType() string

	// EventVersion returns the payload schema version, e.g. "1.0".
	EventVersion() string
}

// Aggregate is the write-model contract, implemented by pointer types.
//
// Decide validates a command against current state and returns the
// events it produces without mutating state; merging intent into state
// happens only in Apply, so the event log preserves what was requested
// rather than the resulting state. Apply folds one event into state and
// is total: replaying the log through Apply must reconstruct exactly
// the state the aggregate reached when the events were first produced.
type Aggregate[C any, E EventPayload] interface {
	// AggregateType returns the aggregate family name, e.g. "Task".
	AggregateType() string

	// Decide validates cmd against current state and returns the
	// ordered events it produces, or a domain error
	// (domain.ErrNotFound, domain.ErrForbidden, domain.ErrUniqueness).
	Decide(cmd C) ([]E, error)

	// Apply folds one event into state. Infallible by contract.
	Apply(evt E)
}

// PayloadDecoder maps a stored event back to its typed payload.
type PayloadDecoder[E EventPayload] func(eventType string, data []byte) (E, error)

// Query is notified after a command's events have been committed.
// Dispatch must not fail the write path: implementations handle their
// own errors (the view projector logs and drops them).
type Query interface {
	Dispatch(ctx context.Context, aggregateID string, events []*domain.Event)
}

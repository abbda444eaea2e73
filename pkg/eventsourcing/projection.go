package eventsourcing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plaenen/taskstream/pkg/domain"
	"github.com/plaenen/taskstream/pkg/observability"
)

// ViewQuery folds committed events into one denormalized read-model row
// per aggregate id, persisted with a conditional write on the view
// context token.
//
// Failure semantics: any error in the update protocol, including a
// stale context token, is logged with the aggregate id and dropped.
// The write path has already committed, so a failed view update means
// temporarily stale reads, recovered by the next event delivery for
// that aggregate (or a full replay), never data loss. Re-delivering the
// same events is idempotent: the row is re-derived from a fresh load
// and folding an event twice through last-writer-wins assignment yields
// the same row.
type ViewQuery[V any, E EventPayload] struct {
	repo    ViewRepository[V]
	decode  PayloadDecoder[E]
	fold    func(view *V, evt *domain.Event, payload E)
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewViewQuery creates a view projector. fold overwrites the row's
// identity columns and folds the payload into the embedded state.
func NewViewQuery[V any, E EventPayload](
	repo ViewRepository[V],
	decode PayloadDecoder[E],
	fold func(view *V, evt *domain.Event, payload E),
	logger *slog.Logger,
	metrics *observability.Metrics,
) *ViewQuery[V, E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewQuery[V, E]{
		repo:    repo,
		decode:  decode,
		fold:    fold,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch implements Query. Errors are swallowed by design; see the
// type comment.
func (q *ViewQuery[V, E]) Dispatch(ctx context.Context, aggregateID string, events []*domain.Event) {
	if err := q.update(ctx, aggregateID, events); err != nil {
		q.logger.Error("view update failed", "aggregate_id", aggregateID, "error", err)
		q.metrics.RecordProjectionError(ctx)
	}
}

func (q *ViewQuery[V, E]) update(ctx context.Context, aggregateID string, events []*domain.Event) error {
	view, vc, found, err := q.repo.LoadWithContext(ctx, aggregateID)
	if err != nil {
		return fmt.Errorf("load view: %w", err)
	}
	if !found {
		view = new(V)
		vc = ViewContext{ViewID: aggregateID, Version: 0}
	}

	for _, evt := range events {
		payload, err := q.decode(evt.EventType, evt.Payload)
		if err != nil {
			return fmt.Errorf("decode event %s: %w", evt.EventType, err)
		}
		q.fold(view, evt, payload)
	}

	if err := q.repo.UpdateView(ctx, view, vc); err != nil {
		return fmt.Errorf("update view: %w", err)
	}
	return nil
}

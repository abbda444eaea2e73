package tasks

import (
	"log/slog"

	"github.com/plaenen/taskstream/pkg/domain"
	"github.com/plaenen/taskstream/pkg/eventsourcing"
	"github.com/plaenen/taskstream/pkg/observability"
)

// View is the denormalized read-model row for one Task: its current
// state plus the id of the last command that touched it. Owned
// exclusively by the projector and rebuildable by replaying the log
// from sequence 1.
type View struct {
	AggregateType string `json:"aggregate_type"`
	CommandID     string `json:"command_id"`
	ID            string `json:"id"`
	Task          Task   `json:"task"`
}

// FoldView overwrites the row's identity columns and folds the event
// into the embedded Task through the same Apply as the write model.
// Plain assignment makes re-folding the same event idempotent.
func FoldView(view *View, evt *domain.Event, payload Event) {
	view.ID = evt.AggregateID
	view.AggregateType = AggregateType
	view.CommandID = evt.Metadata.CommandID()
	view.Task.Apply(payload)
}

// NewViewQuery wires the Task view into the generic projector.
func NewViewQuery(repo eventsourcing.ViewRepository[View], logger *slog.Logger, metrics *observability.Metrics) *eventsourcing.ViewQuery[View, Event] {
	return eventsourcing.NewViewQuery(repo, DecodeEvent, FoldView, logger, metrics)
}

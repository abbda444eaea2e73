// Package tasks implements the Task aggregate family: state, commands,
// events, the read-model view and the audit validation rule. The
// generic machinery it plugs into lives in pkg/eventsourcing.
package tasks

import (
	"fmt"
	"time"

	"github.com/plaenen/taskstream/pkg/domain"
	"github.com/plaenen/taskstream/pkg/idgen"
	"github.com/plaenen/taskstream/pkg/update"
)

// AggregateType is the Task aggregate family name, used as entity name
// in envelopes and as the stream partition key.
const AggregateType = "Task"

// NewTaskID returns a fresh Task id. ULIDs sort by creation time, which
// keeps an aggregate's rows clustered in the log.
func NewTaskID() string {
	return idgen.MustNewID()
}

// Task is the aggregate state as materialized from the event log.
// The zero value is "not yet created" (empty ID).
type Task struct {
	// ID is unique, assigned at creation, immutable thereafter.
	ID string `json:"id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name string `json:"name"`

	// Summary is optional; it is the one field updated through the
	// tri-state update.Update, because "clear it" must be expressible.
	Summary *string `json:"summary,omitempty"`

	Done bool `json:"done"`

	// Deleted is a tombstone: the entity stays in the log and remains
	// readable, but accepts no further mutation.
	Deleted bool `json:"deleted"`
}

// CreateInput is the payload of a Create command.
type CreateInput struct {
	Name    string  `json:"name"`
	Summary *string `json:"summary,omitempty"`
}

// UpdateInput supports partial Task updates. Name and Done are
// two-state (nil = leave unchanged); Summary is tri-state because an
// explicit clear must be distinguishable from "not supplied".
type UpdateInput struct {
	Name    *string               `json:"name,omitempty"`
	Summary update.Update[string] `json:"summary,omitzero"`
	Done    *bool                 `json:"done,omitempty"`
}

// Command is the closed set of Task commands.
type Command interface {
	isCommand()
}

// CreateCommand creates a new Task under the given id.
type CreateCommand struct {
	ID    string
	Input CreateInput
}

// UpdateCommand partially updates an existing Task.
type UpdateCommand struct {
	Input UpdateInput
}

// DeleteCommand tombstones an existing Task.
type DeleteCommand struct{}

func (CreateCommand) isCommand() {}
func (UpdateCommand) isCommand() {}
func (DeleteCommand) isCommand() {}

// AggregateType implements eventsourcing.Aggregate.
func (t *Task) AggregateType() string {
	return AggregateType
}

// Decide validates cmd against current state and returns the events it
// produces. It never mutates state: Updated events carry the partial
// update verbatim, and merging happens in Apply, so the log preserves
// intent rather than resulting state.
func (t *Task) Decide(cmd Command) ([]Event, error) {
	switch c := cmd.(type) {
	case CreateCommand:
		if err := t.validateNew(); err != nil {
			return nil, err
		}
		now := domain.Now()
		return []Event{Created{
			ID:        c.ID,
			CreatedAt: now,
			Task: Task{
				ID:        c.ID,
				CreatedAt: now,
				UpdatedAt: now,
				Name:      c.Input.Name,
				Summary:   c.Input.Summary,
			},
		}}, nil

	case UpdateCommand:
		if err := t.validateExisting(); err != nil {
			return nil, err
		}
		return []Event{Updated{
			ID:        t.ID,
			UpdatedAt: domain.Now(),
			Update:    c.Input,
		}}, nil

	case DeleteCommand:
		if err := t.validateExisting(); err != nil {
			return nil, err
		}
		return []Event{Deleted{
			ID:        t.ID,
			UpdatedAt: domain.Now(),
		}}, nil

	default:
		return nil, fmt.Errorf("unknown command type %T", cmd)
	}
}

// Apply folds one event into state. Total: unknown combinations leave
// state untouched rather than failing, so replay never breaks.
func (t *Task) Apply(evt Event) {
	switch e := evt.(type) {
	case Created:
		*t = e.Task

	case Updated:
		if e.Update.Name != nil {
			t.Name = *e.Update.Name
		}
		e.Update.Summary.ApplyTo(&t.Summary)
		if e.Update.Done != nil {
			t.Done = *e.Update.Done
		}
		t.UpdatedAt = e.UpdatedAt

	case Deleted:
		t.Deleted = true
		t.UpdatedAt = e.UpdatedAt
	}
}

// validateNew rejects creation of an already initialized aggregate.
func (t *Task) validateNew() error {
	if t.ID != "" {
		// A Task with this ID already exists: uniqueness conflict.
		return &domain.UniquenessError{Field: "id"}
	}
	return nil
}

// validateExisting rejects mutation of a missing or deleted aggregate.
func (t *Task) validateExisting() error {
	if t.ID == "" {
		return &domain.NotFoundError{Entity: AggregateType}
	}
	if t.Deleted {
		// Already deleted; terminal for writes.
		return domain.ErrForbidden
	}
	return nil
}

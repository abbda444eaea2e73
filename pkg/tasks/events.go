package tasks

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type names as stored in the log and in envelopes.
const (
	EventTypeCreated = "Task:Created"
	EventTypeUpdated = "Task:Updated"
	EventTypeDeleted = "Task:Deleted"
)

// EventVersion is the current payload schema version for all Task events.
const EventVersion = "1.0"

// Event is the closed set of Task event payloads.
type Event interface {
	EventType() string
	EventVersion() string
	isTaskEvent()
}

// Created records a successful Task creation. It carries a full
// snapshot of the new state.
type Created struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Task      Task      `json:"task"`
}

// Updated records a partial update. It carries the update verbatim,
// not the merged result.
type Updated struct {
	ID        string      `json:"id"`
	UpdatedAt time.Time   `json:"updated_at"`
	Update    UpdateInput `json:"update"`
}

// Deleted records a tombstoning.
type Deleted struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Created) EventType() string { return EventTypeCreated }
func (Updated) EventType() string { return EventTypeUpdated }
func (Deleted) EventType() string { return EventTypeDeleted }

func (Created) EventVersion() string { return EventVersion }
func (Updated) EventVersion() string { return EventVersion }
func (Deleted) EventVersion() string { return EventVersion }

func (Created) isTaskEvent() {}
func (Updated) isTaskEvent() {}
func (Deleted) isTaskEvent() {}

// DecodeEvent maps a stored event type back to its typed payload.
// It is the eventsourcing.PayloadDecoder for the Task family.
func DecodeEvent(eventType string, data []byte) (Event, error) {
	switch eventType {
	case EventTypeCreated:
		var e Created
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return e, nil
	case EventTypeUpdated:
		var e Updated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return e, nil
	case EventTypeDeleted:
		var e Deleted
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}

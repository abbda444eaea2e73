// Package domain defines the shared write-model vocabulary: the event
// log record, the canonical cross-system envelope, event metadata, and
// the domain error taxonomy.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one row of the append-only event log. Events are immutable
// facts about state changes.
type Event struct {
	// AggregateID is the identifier of the aggregate this event belongs to.
	AggregateID string

	// AggregateType is the type name of the aggregate (e.g. "Task").
	AggregateType string

	// Sequence is the aggregate's version after applying this event.
	// It starts at 1 and is gapless and strictly increasing per aggregate.
	Sequence int64

	// EventType is the qualified type name of the event (e.g. "Task:Created").
	EventType string

	// EventVersion is the schema version of the payload.
	EventVersion string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Payload is the JSON-serialized event payload.
	Payload []byte

	// Metadata carries contextual key/value pairs such as the command id.
	Metadata Metadata
}

// Metadata is the contextual key/value map attached to events.
type Metadata map[string]string

// MetadataCommandID is the metadata key holding the id of the command
// that produced an event.
const MetadataCommandID = "command_id"

// MetadataCorrelationID is the metadata key used to trace related
// events across aggregates.
const MetadataCorrelationID = "correlation_id"

// CommandID returns the command id, or "" when absent.
func (m Metadata) CommandID() string {
	return m[MetadataCommandID]
}

// Envelope is the canonical representation of a committed event as it
// crosses system boundaries (stream publication, audit storage).
// (Entity, ID, Sequence) is globally unique.
type Envelope struct {
	ID           string `json:"id"`
	Entity       string `json:"entity"`
	Sequence     int64  `json:"sequence"`
	EventType    string `json:"event_type"`
	EventVersion string `json:"event_version"`

	// Payload is the opaque serialized event payload.
	Payload string `json:"payload"`

	// Metadata is the opaque serialized metadata map.
	Metadata string `json:"metadata"`
}

// NewEnvelope converts a committed log record into its canonical form.
func NewEnvelope(evt *Event) (*Envelope, error) {
	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal event metadata: %w", err)
	}
	return &Envelope{
		ID:           evt.AggregateID,
		Entity:       evt.AggregateType,
		Sequence:     evt.Sequence,
		EventType:    evt.EventType,
		EventVersion: evt.EventVersion,
		Payload:      string(evt.Payload),
		Metadata:     string(metadata),
	}, nil
}

// UnmarshalMetadata decodes the envelope's opaque metadata string.
func (e *Envelope) UnmarshalMetadata() (Metadata, error) {
	if e.Metadata == "" {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(e.Metadata), &m); err != nil {
		return nil, fmt.Errorf("unmarshal envelope metadata: %w", err)
	}
	return m, nil
}

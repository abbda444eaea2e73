// Package changefeed forwards committed event-log rows to the outbound
// stream: it models the write store's change feed, decodes raw change
// records into canonical envelopes, and publishes them with unordered
// partial-failure reporting.
package changefeed

import (
	"fmt"
	"strconv"

	"github.com/plaenen/taskstream/pkg/domain"
)

// Change record kinds. Only inserts are republished: updates and
// deletes to the log itself are not domain events.
const (
	EventNameInsert = "INSERT"
	EventNameModify = "MODIFY"
	EventNameRemove = "REMOVE"
)

// Attribute names of a change record's image.
const (
	attrAggregateID         = "AggregateId"
	attrAggregateType       = "AggregateType"
	attrAggregateIDSequence = "AggregateIdSequence"
	attrEventType           = "EventType"
	attrEventVersion        = "EventVersion"
	attrPayload             = "Payload"
	attrMetadata            = "Metadata"
)

// Record is one raw change-feed record: a newly written event-log row
// as an opaque attribute map, plus the source identifier the harness
// uses to redeliver it.
type Record struct {
	RecordID  string
	EventName string
	NewImage  map[string]string
}

// FeedEntry is one position of the write store's global change feed.
type FeedEntry struct {
	Position int64
	Event    *domain.Event
}

// InvalidAttributeError reports a missing or malformed image attribute.
type InvalidAttributeError struct {
	Attribute string
}

func (e *InvalidAttributeError) Error() string {
	return fmt.Sprintf("attribute %s not found", e.Attribute)
}

// DecodeEnvelope converts a change record's image into the canonical
// envelope. Decode failures are permanent for the record: retrying
// cannot fix malformed content, but they are still reported through the
// partial-failure channel because the harness cannot tell the
// difference.
func DecodeEnvelope(image map[string]string) (*domain.Envelope, error) {
	get := func(name string) (string, error) {
		v, ok := image[name]
		if !ok {
			return "", &InvalidAttributeError{Attribute: name}
		}
		return v, nil
	}

	id, err := get(attrAggregateID)
	if err != nil {
		return nil, err
	}
	entity, err := get(attrAggregateType)
	if err != nil {
		return nil, err
	}
	rawSeq, err := get(attrAggregateIDSequence)
	if err != nil {
		return nil, err
	}
	sequence, err := strconv.ParseInt(rawSeq, 10, 64)
	if err != nil {
		return nil, &InvalidAttributeError{Attribute: attrAggregateIDSequence}
	}
	eventType, err := get(attrEventType)
	if err != nil {
		return nil, err
	}
	eventVersion, err := get(attrEventVersion)
	if err != nil {
		return nil, err
	}
	payload, err := get(attrPayload)
	if err != nil {
		return nil, err
	}
	metadata, err := get(attrMetadata)
	if err != nil {
		return nil, err
	}

	return &domain.Envelope{
		ID:           id,
		Entity:       entity,
		Sequence:     sequence,
		EventType:    eventType,
		EventVersion: eventVersion,
		Payload:      payload,
		Metadata:     metadata,
	}, nil
}

// EncodeImage renders a committed log record as a change-record image.
// The relay uses it to synthesize feed records; DecodeEnvelope is its
// inverse up to the canonical envelope.
func EncodeImage(evt *domain.Event) (map[string]string, error) {
	env, err := domain.NewEnvelope(evt)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		attrAggregateID:         env.ID,
		attrAggregateType:       env.Entity,
		attrAggregateIDSequence: strconv.FormatInt(env.Sequence, 10),
		attrEventType:           env.EventType,
		attrEventVersion:        env.EventVersion,
		attrPayload:             env.Payload,
		attrMetadata:            env.Metadata,
	}, nil
}

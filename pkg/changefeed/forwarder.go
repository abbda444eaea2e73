package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/plaenen/taskstream/pkg/batch"
	"github.com/plaenen/taskstream/pkg/observability"
)

// Broker publishes serialized envelopes to the outbound stream.
// Records sharing a partition key are delivered in relative order to
// downstream readers.
type Broker interface {
	Publish(ctx context.Context, partitionKey string, data []byte) error
}

// Forwarder translates a batch of change records into canonical
// envelopes and publishes them keyed by aggregate type.
//
// Partial-failure policy (unordered): every record is attempted
// independently; a record whose decode or publish fails is recorded in
// the batch result by its source identifier and later records are
// still attempted, since the batch as a whole carries no ordering
// guarantee across aggregate ids.
type Forwarder struct {
	broker  Broker
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewForwarder creates a forwarder publishing to broker.
func NewForwarder(broker Broker, logger *slog.Logger, metrics *observability.Metrics) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{broker: broker, logger: logger, metrics: metrics}
}

// HandleBatch processes one change-feed batch. Non-insert records are
// ignored: only newly appended log rows are republished.
func (f *Forwarder) HandleBatch(ctx context.Context, records []Record) batch.Result {
	f.logger.Info("processing change feed batch", "records", len(records))

	var result batch.Result
	for _, rec := range records {
		if rec.EventName != EventNameInsert {
			f.logger.Debug("ignoring change record",
				"record_id", rec.RecordID, "event_name", rec.EventName)
			continue
		}
		if err := f.handleRecord(ctx, rec); err != nil {
			f.logger.Error("change record failed",
				"record_id", rec.RecordID, "error", err)
			f.metrics.RecordForward(ctx, false)
			result.Fail(rec.RecordID)
			continue
		}
		f.metrics.RecordForward(ctx, true)
	}
	return result
}

func (f *Forwarder) handleRecord(ctx context.Context, rec Record) error {
	env, err := DecodeEnvelope(rec.NewImage)
	if err != nil {
		return fmt.Errorf("decode change record: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	f.logger.Info("publishing domain event",
		"event_type", env.EventType, "aggregate_id", env.ID, "sequence", env.Sequence)

	// Partition by aggregate type; ids are partitioned under their
	// type, so per-aggregate order is preserved on the shard.
	if err := f.broker.Publish(ctx, env.Entity, data); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

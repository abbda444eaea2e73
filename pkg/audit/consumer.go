// Package audit writes committed envelopes from the stream into
// durable blob storage, forming the permanent audit trail downstream of
// the operational event log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"gocloud.dev/blob"

	"github.com/plaenen/taskstream/pkg/batch"
	"github.com/plaenen/taskstream/pkg/domain"
	"github.com/plaenen/taskstream/pkg/observability"
)

// Validator vets a decoded envelope before it is written to the trail.
// Implementations are supplied per entity by the aggregate-type owner;
// the consumer itself carries no domain rules. A validation error fails
// the record, forcing the harness to redeliver it.
type Validator interface {
	ValidateEnvelope(env *domain.Envelope) error
}

// Consumer audits a batch of stream records into blob storage.
//
// Ordering policy (strict prefix failure): the stream preserves
// relative order per partition key, and the trail must never hold
// sequence N+1 while N is missing or pending retry. So once a record
// fails at index i, records [i, end) are all reported failed and
// [i+1, end) are never attempted; records [0, i) have already been
// durably written. Re-writing a record on redelivery is idempotent:
// same key, same bytes.
type Consumer struct {
	bucket     *blob.Bucket
	validators map[string]Validator
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewConsumer creates a consumer writing to bucket.
func NewConsumer(bucket *blob.Bucket, logger *slog.Logger, metrics *observability.Metrics) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		bucket:     bucket,
		validators: make(map[string]Validator),
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterValidator installs the validator for one entity type.
func (c *Consumer) RegisterValidator(entity string, v Validator) {
	c.validators[entity] = v
}

// ObjectKey is the audit trail layout: one object per committed event,
// globally unique by (entity, id, sequence).
func ObjectKey(entity, id string, sequence int64) string {
	return fmt.Sprintf("events/%s/%s-%d.json", entity, id, sequence)
}

// HandleBatch audits one stream batch under the prefix-failure policy.
func (c *Consumer) HandleBatch(ctx context.Context, records []batch.Record) batch.Result {
	c.logger.Info("processing stream batch", "records", len(records))

	var result batch.Result
	for i, rec := range records {
		if err := c.handleRecord(ctx, rec); err != nil {
			c.logger.Error("audit record failed, failing remainder of batch",
				"record_id", rec.RecordID, "error", err)
			for _, rest := range records[i:] {
				result.Fail(rest.RecordID)
			}
			c.metrics.RecordAudit(ctx, i, len(records)-i)
			return result
		}
	}
	c.metrics.RecordAudit(ctx, len(records), 0)
	return result
}

func (c *Consumer) handleRecord(ctx context.Context, rec batch.Record) error {
	if !utf8.Valid(rec.Data) {
		return fmt.Errorf("record is not valid UTF-8")
	}

	var env domain.Envelope
	if err := json.Unmarshal(rec.Data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	if v, ok := c.validators[env.Entity]; ok {
		if err := v.ValidateEnvelope(&env); err != nil {
			return fmt.Errorf("validate envelope: %w", err)
		}
	}

	key := ObjectKey(env.Entity, env.ID, env.Sequence)
	c.logger.Info("auditing domain event",
		"key", key, "event_type", env.EventType)

	// The envelope is stored verbatim as published, not re-marshaled.
	if err := c.bucket.WriteAll(ctx, key, rec.Data, nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Package observability holds the OpenTelemetry metric instruments for
// the write path and both stream pipelines.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments. A nil *Metrics is valid and
// records nothing, so components can run without a meter.
type Metrics struct {
	// Command metrics
	CommandTotal  metric.Int64Counter
	CommandErrors metric.Int64Counter

	// Event store metrics
	EventsAppended metric.Int64Counter
	SnapshotsTaken metric.Int64Counter

	// Projection metrics
	ProjectionErrors metric.Int64Counter

	// Forwarder metrics
	RecordsForwarded metric.Int64Counter
	ForwardFailures  metric.Int64Counter

	// Audit metrics
	AuditWrites   metric.Int64Counter
	AuditFailures metric.Int64Counter
}

// NewMetrics creates all metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandTotal, err = meter.Int64Counter(
		"taskstream.command.total",
		metric.WithDescription("Total commands executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.total: %w", err)
	}

	m.CommandErrors, err = meter.Int64Counter(
		"taskstream.command.errors",
		metric.WithDescription("Total command errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.errors: %w", err)
	}

	m.EventsAppended, err = meter.Int64Counter(
		"taskstream.events.appended",
		metric.WithDescription("Total events appended to the event store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	m.SnapshotsTaken, err = meter.Int64Counter(
		"taskstream.snapshots.taken",
		metric.WithDescription("Total aggregate snapshots persisted"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating snapshots.taken: %w", err)
	}

	m.ProjectionErrors, err = meter.Int64Counter(
		"taskstream.projection.errors",
		metric.WithDescription("Total view projection errors (logged and dropped)"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	m.RecordsForwarded, err = meter.Int64Counter(
		"taskstream.forwarder.records",
		metric.WithDescription("Total change records published to the stream"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating forwarder.records: %w", err)
	}

	m.ForwardFailures, err = meter.Int64Counter(
		"taskstream.forwarder.failures",
		metric.WithDescription("Total change records that failed to publish"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating forwarder.failures: %w", err)
	}

	m.AuditWrites, err = meter.Int64Counter(
		"taskstream.audit.writes",
		metric.WithDescription("Total envelopes written to the audit trail"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating audit.writes: %w", err)
	}

	m.AuditFailures, err = meter.Int64Counter(
		"taskstream.audit.failures",
		metric.WithDescription("Total envelopes reported failed by the audit consumer"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating audit.failures: %w", err)
	}

	return m, nil
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if m == nil || c == nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}

// RecordCommand counts one command execution and, when err is non-nil,
// one command error.
func (m *Metrics) RecordCommand(ctx context.Context, aggregateType string, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("aggregate_type", aggregateType)}
	m.add(ctx, m.CommandTotal, 1, attrs...)
	if err != nil {
		m.add(ctx, m.CommandErrors, 1, attrs...)
	}
}

// RecordAppend counts events durably appended to the store.
func (m *Metrics) RecordAppend(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.add(ctx, m.EventsAppended, int64(n))
}

// RecordSnapshot counts one persisted snapshot.
func (m *Metrics) RecordSnapshot(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.SnapshotsTaken, 1)
}

// RecordProjectionError counts one swallowed view projection error.
func (m *Metrics) RecordProjectionError(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.ProjectionErrors, 1)
}

// RecordForward counts one change-record publish attempt.
func (m *Metrics) RecordForward(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.add(ctx, m.RecordsForwarded, 1)
	} else {
		m.add(ctx, m.ForwardFailures, 1)
	}
}

// RecordAudit counts audit writes and reported failures for one batch.
func (m *Metrics) RecordAudit(ctx context.Context, writes, failures int) {
	if m == nil {
		return
	}
	m.add(ctx, m.AuditWrites, int64(writes))
	m.add(ctx, m.AuditFailures, int64(failures))
}

// Package nats adapts NATS JetStream to the stream-broker capability:
// envelope publication partitioned by subject, and durable pull-batch
// consumption for the audit pipeline.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds configuration for the JetStream broker.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream holding published envelopes.
	StreamName string

	// SubjectPrefix prefixes the partition key to form the subject,
	// e.g. "events" publishes Task envelopes on "events.Task".
	SubjectPrefix string

	// MaxAge is how long to retain events in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum bytes the stream can store.
	MaxBytes int64
}

// DefaultConfig returns sensible defaults for the broker.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "TASK_EVENTS",
		SubjectPrefix: "events",
		MaxAge:        7 * 24 * time.Hour,
		MaxBytes:      1024 * 1024 * 1024, // 1 GB
	}
}

// Broker is a JetStream-backed changefeed.Broker. Envelopes published
// with the same partition key share a subject and are delivered to
// consumers in publish order.
type Broker struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg Config
}

// NewBroker connects to NATS and ensures the stream exists.
func NewBroker(cfg Config) (*Broker, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &Broker{nc: nc, js: js, cfg: cfg}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return b, nil
}

func (b *Broker) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      b.cfg.StreamName,
		Subjects:  []string{b.cfg.SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    b.cfg.MaxAge,
		MaxBytes:  b.cfg.MaxBytes,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	if _, err := b.js.StreamInfo(b.cfg.StreamName); err != nil {
		// Stream doesn't exist yet.
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
	}
	return nil
}

// Publish implements changefeed.Broker. Publication is at-least-once:
// a redelivered change record may produce a duplicate copy downstream,
// never a reordered or lost one.
func (b *Broker) Publish(ctx context.Context, partitionKey string, data []byte) error {
	subject := b.cfg.SubjectPrefix + "." + partitionKey
	if _, err := b.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// JetStream exposes the underlying context for subscribers.
func (b *Broker) JetStream() nats.JetStreamContext {
	return b.js
}

// Close drains and closes the connection.
func (b *Broker) Close() {
	if b.nc == nil {
		return
	}
	_ = b.nc.Drain()
	b.nc.Close()
}

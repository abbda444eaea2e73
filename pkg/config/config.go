// Package config loads process configuration from the environment into
// one explicit struct, constructed once at startup and passed into
// component constructors.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every externally tunable setting.
type Config struct {
	// DatabasePath is the SQLite database holding the event log,
	// snapshots, views and relay checkpoints.
	DatabasePath string `env:"TASKSTREAM_DB" envDefault:"taskstream.db"`

	// NATSURL is the NATS server to publish and consume the event
	// stream on. Ignored when EmbeddedNATS is set.
	NATSURL string `env:"TASKSTREAM_NATS_URL" envDefault:"nats://127.0.0.1:4222"`

	// EmbeddedNATS runs an in-process NATS server, for development.
	EmbeddedNATS bool `env:"TASKSTREAM_EMBEDDED_NATS" envDefault:"false"`

	// StreamName is the JetStream stream holding published envelopes.
	StreamName string `env:"TASKSTREAM_STREAM" envDefault:"TASK_EVENTS"`

	// AuditBucketURL is a gocloud.dev blob URL for the audit trail,
	// e.g. "file:///var/lib/taskstream/audit" or "s3://event-audit".
	AuditBucketURL string `env:"TASKSTREAM_AUDIT_BUCKET" envDefault:"file:///var/lib/taskstream/audit"`

	// RelayInterval is how often the relay polls the change feed.
	RelayInterval time.Duration `env:"TASKSTREAM_RELAY_INTERVAL" envDefault:"250ms"`

	// RelayBatchSize bounds how many feed entries one relay poll handles.
	RelayBatchSize int `env:"TASKSTREAM_RELAY_BATCH" envDefault:"100"`

	// AuditBatchSize bounds how many stream records one audit fetch handles.
	AuditBatchSize int `env:"TASKSTREAM_AUDIT_BATCH" envDefault:"100"`

	// StoreTimeout bounds every store, broker and blob call.
	StoreTimeout time.Duration `env:"TASKSTREAM_STORE_TIMEOUT" envDefault:"5s"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Command taskstream-audit consumes published event envelopes from the
// stream and archives each one verbatim to the audit blob bucket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/plaenen/taskstream/pkg/audit"
	"github.com/plaenen/taskstream/pkg/config"
	"github.com/plaenen/taskstream/pkg/nats"
	"github.com/plaenen/taskstream/pkg/observability"
	"github.com/plaenen/taskstream/pkg/runner"
	"github.com/plaenen/taskstream/pkg/tasks"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("audit consumer exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := runner.SignalContext(context.Background())
	defer cancel()

	tel, err := observability.Init(ctx, observability.Config{
		ServiceName: "taskstream-audit",
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	bucket, err := blob.OpenBucket(ctx, cfg.AuditBucketURL)
	if err != nil {
		return fmt.Errorf("open audit bucket: %w", err)
	}
	defer bucket.Close()

	brokerCfg := nats.DefaultConfig()
	brokerCfg.URL = cfg.NATSURL
	brokerCfg.StreamName = cfg.StreamName

	var embedded *nats.EmbeddedServer
	if cfg.EmbeddedNATS {
		embedded, err = nats.StartEmbeddedServer()
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		defer embedded.Shutdown()
		brokerCfg.URL = embedded.URL()
	}

	broker, err := nats.NewBroker(brokerCfg)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer broker.Close()

	consumer := audit.NewConsumer(bucket, logger, tel.Metrics)
	consumer.RegisterValidator(tasks.AggregateType, tasks.SummaryRejectValidator{})

	subscriber := nats.NewSubscriber(broker.JetStream(), consumer, nats.SubscriberConfig{
		Name:         "audit-subscriber",
		Durable:      "audit",
		Subject:      brokerCfg.SubjectPrefix + ".>",
		BatchSize:    cfg.AuditBatchSize,
		BatchTimeout: cfg.StoreTimeout,
		Logger:       logger,
	})

	r := runner.New([]runner.Service{subscriber}, runner.WithLogger(logger))
	return r.Run(ctx)
}

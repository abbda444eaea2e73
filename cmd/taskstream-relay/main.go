// Command taskstream-relay tails the event store change feed and
// forwards committed events to the JetStream event stream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/plaenen/taskstream/pkg/changefeed"
	"github.com/plaenen/taskstream/pkg/config"
	"github.com/plaenen/taskstream/pkg/nats"
	"github.com/plaenen/taskstream/pkg/observability"
	"github.com/plaenen/taskstream/pkg/runner"
	"github.com/plaenen/taskstream/pkg/sqlite"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("relay exited", "error", err)
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
		ServiceName: "taskstream-relay",
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	db, err := sqlite.Open(sqlite.WithDSN(cfg.DatabasePath), sqlite.WithWALMode(true))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

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

	forwarder := changefeed.NewForwarder(broker, logger, tel.Metrics)
	relay := changefeed.NewRelay(
		sqlite.NewEventStore(db),
		sqlite.NewCheckpointStore(db),
		forwarder,
		changefeed.RelayConfig{
			Interval:  cfg.RelayInterval,
			BatchSize: cfg.RelayBatchSize,
			Timeout:   cfg.StoreTimeout,
			Logger:    logger,
		},
	)

	r := runner.New([]runner.Service{relay}, runner.WithLogger(logger))
	return r.Run(ctx)
}

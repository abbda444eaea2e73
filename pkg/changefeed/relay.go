package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// FeedSource exposes the write store's globally ordered change feed.
type FeedSource interface {
	LoadFeed(ctx context.Context, fromPosition int64, limit int) ([]FeedEntry, error)
}

// Checkpoints persists the relay's feed position across restarts.
type Checkpoints interface {
	Position(ctx context.Context, consumer string) (int64, error)
	SavePosition(ctx context.Context, consumer string, position int64) error
}

// Relay polls the change feed and pushes batches through the
// Forwarder. The checkpoint only advances past a record once it and
// every record before it have been forwarded, so failed records are
// re-polled on the next tick (at-least-once).
type Relay struct {
	feed        FeedSource
	checkpoints Checkpoints
	forwarder   *Forwarder
	consumer    string
	interval    time.Duration
	batchSize   int
	timeout     time.Duration
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// RelayConfig holds the relay's tunables.
type RelayConfig struct {
	// Consumer names the checkpoint row. Default "changefeed-relay".
	Consumer string

	// Interval between polls. Default 250ms.
	Interval time.Duration

	// BatchSize bounds entries per poll. Default 100.
	BatchSize int

	// Timeout bounds one poll end to end. Default 5s.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.Consumer == "" {
		c.Consumer = "changefeed-relay"
	}
	if c.Interval <= 0 {
		c.Interval = 250 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// NewRelay creates a relay. Call Start to begin polling.
func NewRelay(feed FeedSource, checkpoints Checkpoints, forwarder *Forwarder, cfg RelayConfig) *Relay {
	cfg = cfg.withDefaults()
	return &Relay{
		feed:        feed,
		checkpoints: checkpoints,
		forwarder:   forwarder,
		consumer:    cfg.Consumer,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
}

// Name implements runner.Service.
func (r *Relay) Name() string {
	return r.consumer
}

// Start begins polling in the background.
func (r *Relay) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(loopCtx)
	return nil
}

// Stop halts polling and waits for the loop to drain.
func (r *Relay) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("change feed poll failed", "error", err)
			}
		}
	}
}

// Poll forwards one batch from the feed and advances the checkpoint to
// the last position before the first failure.
func (r *Relay) Poll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	position, err := r.checkpoints.Position(ctx, r.consumer)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	entries, err := r.feed.LoadFeed(ctx, position, r.batchSize)
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		image, err := EncodeImage(entry.Event)
		if err != nil {
			return fmt.Errorf("encode feed entry %d: %w", entry.Position, err)
		}
		records = append(records, Record{
			RecordID:  strconv.FormatInt(entry.Position, 10),
			EventName: EventNameInsert,
			NewImage:  image,
		})
	}

	result := r.forwarder.HandleBatch(ctx, records)

	failed := make(map[string]struct{}, len(result.FailedItemIDs))
	for _, id := range result.FailedItemIDs {
		failed[id] = struct{}{}
	}

	next := position
	for _, entry := range entries {
		if _, ok := failed[strconv.FormatInt(entry.Position, 10)]; ok {
			break
		}
		next = entry.Position
	}
	if next == position {
		return nil
	}
	if err := r.checkpoints.SavePosition(ctx, r.consumer, next); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

package nats

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/plaenen/taskstream/pkg/batch"
)

// RecordHandler consumes one fetched batch of raw stream records and
// reports the subset that failed.
type RecordHandler interface {
	HandleBatch(ctx context.Context, records []batch.Record) batch.Result
}

// SubscriberConfig holds configuration for a pull-batch subscriber.
type SubscriberConfig struct {
	// Name identifies the subscriber as a runner service.
	Name string

	// Durable is the durable consumer name. Progress survives restarts.
	Durable string

	// Subject is the subscription filter, e.g. "events.>".
	Subject string

	// BatchSize is the maximum records fetched per batch.
	BatchSize int

	// FetchWait bounds how long a fetch blocks waiting for records.
	FetchWait time.Duration

	// BatchTimeout bounds one handler invocation end to end, so a stuck
	// downstream write cannot wedge the fetch loop. An expired batch is
	// nak'd by the handler's own failure reporting and redelivered.
	BatchTimeout time.Duration

	Logger *slog.Logger
}

func (c SubscriberConfig) withDefaults() SubscriberConfig {
	if c.Name == "" {
		c.Name = "subscriber"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FetchWait <= 0 {
		c.FetchWait = time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Subscriber pulls batches from a durable JetStream consumer and hands
// them to a RecordHandler. Records the handler reports as failed are
// negatively acknowledged and redelivered; the rest are acknowledged.
type Subscriber struct {
	js      nats.JetStreamContext
	handler RecordHandler
	cfg     SubscriberConfig

	mu     sync.Mutex
	sub    *nats.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber builds a subscriber over an existing JetStream context.
func NewSubscriber(js nats.JetStreamContext, handler RecordHandler, cfg SubscriberConfig) *Subscriber {
	return &Subscriber{js: js, handler: handler, cfg: cfg.withDefaults()}
}

// Name implements runner.Service.
func (s *Subscriber) Name() string { return s.cfg.Name }

// Start subscribes and begins the fetch loop.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.js.PullSubscribe(s.cfg.Subject, s.cfg.Durable)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.sub = sub
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	return nil
}

// Stop cancels the fetch loop and unsubscribes.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done, sub := s.cancel, s.done, s.sub
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return sub.Unsubscribe()
}

func (s *Subscriber) loop(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := s.sub.Fetch(s.cfg.BatchSize, nats.MaxWait(s.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) {
				continue
			}
			s.cfg.Logger.Error("fetch batch", "subscriber", s.cfg.Name, "error", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		s.dispatch(ctx, msgs)
	}
}

func (s *Subscriber) dispatch(ctx context.Context, msgs []*nats.Msg) {
	records := make([]batch.Record, len(msgs))
	for i, msg := range msgs {
		records[i] = batch.Record{
			RecordID: recordID(msg, i),
			Data:     msg.Data,
		}
	}

	batchCtx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	result := s.handler.HandleBatch(batchCtx, records)
	cancel()

	failed := make(map[string]bool, len(result.FailedItemIDs))
	for _, id := range result.FailedItemIDs {
		failed[id] = true
	}

	for i, msg := range msgs {
		if failed[records[i].RecordID] {
			if err := msg.Nak(); err != nil {
				s.cfg.Logger.Error("nak record", "record_id", records[i].RecordID, "error", err)
			}
			continue
		}
		if err := msg.Ack(); err != nil {
			s.cfg.Logger.Error("ack record", "record_id", records[i].RecordID, "error", err)
		}
	}
}

// recordID derives a stable identifier from the stream sequence so
// redeliveries of the same message keep the same identity.
func recordID(msg *nats.Msg, fallback int) string {
	if meta, err := msg.Metadata(); err == nil {
		return strconv.FormatUint(meta.Sequence.Stream, 10)
	}
	return strconv.Itoa(fallback)
}

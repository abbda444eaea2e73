package nats_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/taskstream/pkg/batch"
	natspkg "github.com/plaenen/taskstream/pkg/nats"
)

// recordingHandler collects delivered batches and can fail the first
// delivery of selected payloads.
type recordingHandler struct {
	mu       sync.Mutex
	received [][]byte
	failOnce map[string]bool
}

func (h *recordingHandler) HandleBatch(ctx context.Context, records []batch.Record) batch.Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	var result batch.Result
	for _, rec := range records {
		if h.failOnce[string(rec.Data)] {
			delete(h.failOnce, string(rec.Data))
			result.Fail(rec.RecordID)
			continue
		}
		h.received = append(h.received, rec.Data)
	}
	return result
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBrokerPublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	broker, srv, err := natspkg.NewEmbeddedBroker()
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	t.Cleanup(broker.Close)

	handler := &recordingHandler{}
	sub := natspkg.NewSubscriber(broker.JetStream(), handler, natspkg.SubscriberConfig{
		Name:      "test-subscriber",
		Durable:   "test",
		Subject:   "events.>",
		BatchSize: 10,
		FetchWait: 100 * time.Millisecond,
	})

	ctx := context.Background()
	require.NoError(t, sub.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sub.Stop(stopCtx)
	})

	require.NoError(t, broker.Publish(ctx, "Task", []byte(`{"sequence":1}`)))
	require.NoError(t, broker.Publish(ctx, "Task", []byte(`{"sequence":2}`)))

	waitFor(t, 5*time.Second, func() bool { return handler.count() == 2 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, `{"sequence":1}`, string(handler.received[0]))
	assert.Equal(t, `{"sequence":2}`, string(handler.received[1]))
}

func TestSubscriberRedeliversFailedRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	broker, srv, err := natspkg.NewEmbeddedBroker()
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	t.Cleanup(broker.Close)

	handler := &recordingHandler{failOnce: map[string]bool{`{"sequence":1}`: true}}
	sub := natspkg.NewSubscriber(broker.JetStream(), handler, natspkg.SubscriberConfig{
		Name:      "test-subscriber",
		Durable:   "test",
		Subject:   "events.>",
		BatchSize: 10,
		FetchWait: 100 * time.Millisecond,
	})

	ctx := context.Background()
	require.NoError(t, sub.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sub.Stop(stopCtx)
	})

	require.NoError(t, broker.Publish(ctx, "Task", []byte(`{"sequence":1}`)))

	// First delivery is nacked, the redelivery succeeds.
	waitFor(t, 5*time.Second, func() bool { return handler.count() == 1 })
	assert.Equal(t, `{"sequence":1}`, string(handler.received[0]))
}

// stallingHandler blocks its first invocation until the batch context
// expires, like a hung downstream write would, then fails the records.
type stallingHandler struct {
	mu        sync.Mutex
	stalled   bool
	firstErr  error
	delivered [][]byte
}

func (h *stallingHandler) HandleBatch(ctx context.Context, records []batch.Record) batch.Result {
	h.mu.Lock()
	first := !h.stalled
	h.stalled = true
	h.mu.Unlock()

	var result batch.Result
	if first {
		<-ctx.Done()
		h.mu.Lock()
		h.firstErr = ctx.Err()
		h.mu.Unlock()
		for _, rec := range records {
			result.Fail(rec.RecordID)
		}
		return result
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range records {
		h.delivered = append(h.delivered, rec.Data)
	}
	return result
}

func (h *stallingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.delivered)
}

func TestSubscriberBoundsHandlerInvocation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	broker, srv, err := natspkg.NewEmbeddedBroker()
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	t.Cleanup(broker.Close)

	handler := &stallingHandler{}
	sub := natspkg.NewSubscriber(broker.JetStream(), handler, natspkg.SubscriberConfig{
		Name:         "test-subscriber",
		Durable:      "test",
		Subject:      "events.>",
		BatchSize:    10,
		FetchWait:    100 * time.Millisecond,
		BatchTimeout: 200 * time.Millisecond,
	})

	ctx := context.Background()
	require.NoError(t, sub.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sub.Stop(stopCtx)
	})

	require.NoError(t, broker.Publish(ctx, "Task", []byte(`{"sequence":1}`)))

	// The stalled first delivery is cut off by the batch deadline and
	// nacked; the fetch loop stays live and the redelivery lands.
	waitFor(t, 10*time.Second, func() bool { return handler.count() == 1 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.ErrorIs(t, handler.firstErr, context.DeadlineExceeded)
	assert.Equal(t, `{"sequence":1}`, string(handler.delivered[0]))
}

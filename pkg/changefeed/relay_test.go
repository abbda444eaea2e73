package changefeed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/taskstream/pkg/changefeed"
	"github.com/plaenen/taskstream/pkg/domain"
)

// fakeFeed serves a fixed slice of entries.
type fakeFeed struct {
	entries []changefeed.FeedEntry
}

func (f *fakeFeed) LoadFeed(ctx context.Context, fromPosition int64, limit int) ([]changefeed.FeedEntry, error) {
	var out []changefeed.FeedEntry
	for _, entry := range f.entries {
		if entry.Position > fromPosition && len(out) < limit {
			out = append(out, entry)
		}
	}
	return out, nil
}

type fakeCheckpoints struct {
	positions map[string]int64
}

func (c *fakeCheckpoints) Position(ctx context.Context, consumer string) (int64, error) {
	return c.positions[consumer], nil
}

func (c *fakeCheckpoints) SavePosition(ctx context.Context, consumer string, position int64) error {
	c.positions[consumer] = position
	return nil
}

func feedEntry(position int64, aggregateID string, sequence int64) changefeed.FeedEntry {
	return changefeed.FeedEntry{
		Position: position,
		Event: &domain.Event{
			AggregateID:   aggregateID,
			AggregateType: "Task",
			Sequence:      sequence,
			EventType:     "Task:Created",
			EventVersion:  "1.0",
			Timestamp:     domain.Now(),
			Payload:       []byte(`{}`),
			Metadata:      domain.Metadata{},
		},
	}
}

func TestRelayPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("ForwardsAndAdvancesCheckpoint", func(t *testing.T) {
		feed := &fakeFeed{entries: []changefeed.FeedEntry{
			feedEntry(1, "t1", 1),
			feedEntry(2, "t1", 2),
			feedEntry(3, "t2", 1),
		}}
		checkpoints := &fakeCheckpoints{positions: map[string]int64{}}
		broker := &fakeBroker{}
		relay := changefeed.NewRelay(feed, checkpoints, changefeed.NewForwarder(broker, nil, nil), changefeed.RelayConfig{})

		require.NoError(t, relay.Poll(ctx))
		assert.Len(t, broker.published, 3)
		assert.Equal(t, int64(3), checkpoints.positions["changefeed-relay"])

		// Nothing new: the next poll is a no-op.
		require.NoError(t, relay.Poll(ctx))
		assert.Len(t, broker.published, 3)
	})

	t.Run("CheckpointStopsBeforeFirstFailure", func(t *testing.T) {
		feed := &fakeFeed{entries: []changefeed.FeedEntry{
			feedEntry(1, "t1", 1),
			feedEntry(2, "o1", 1),
			feedEntry(3, "t2", 1),
		}}
		feed.entries[1].Event.AggregateType = "Order"

		checkpoints := &fakeCheckpoints{positions: map[string]int64{}}
		broker := &fakeBroker{failKeys: map[string]bool{"Order": true}}
		forwarder := changefeed.NewForwarder(broker, nil, nil)
		relay := changefeed.NewRelay(feed, checkpoints, forwarder, changefeed.RelayConfig{})

		require.NoError(t, relay.Poll(ctx))
		// Position 3 was published (unordered batch policy) but the
		// checkpoint must not jump past the failed position 2.
		assert.Len(t, broker.published, 2)
		assert.Equal(t, int64(1), checkpoints.positions["changefeed-relay"])

		// Once the broker recovers, the next poll redelivers from the
		// checkpoint and catches up.
		broker.failKeys = nil
		require.NoError(t, relay.Poll(ctx))
		assert.Equal(t, int64(3), checkpoints.positions["changefeed-relay"])
	})

	t.Run("BatchSizeBoundsOnePoll", func(t *testing.T) {
		feed := &fakeFeed{entries: []changefeed.FeedEntry{
			feedEntry(1, "t1", 1),
			feedEntry(2, "t1", 2),
			feedEntry(3, "t1", 3),
		}}
		checkpoints := &fakeCheckpoints{positions: map[string]int64{}}
		broker := &fakeBroker{}
		relay := changefeed.NewRelay(feed, checkpoints, changefeed.NewForwarder(broker, nil, nil), changefeed.RelayConfig{BatchSize: 2})

		require.NoError(t, relay.Poll(ctx))
		assert.Len(t, broker.published, 2)
		assert.Equal(t, int64(2), checkpoints.positions["changefeed-relay"])

		require.NoError(t, relay.Poll(ctx))
		assert.Len(t, broker.published, 3)
		assert.Equal(t, int64(3), checkpoints.positions["changefeed-relay"])
	})

	t.Run("ResumesFromSavedPosition", func(t *testing.T) {
		feed := &fakeFeed{entries: []changefeed.FeedEntry{
			feedEntry(1, "t1", 1),
			feedEntry(2, "t1", 2),
		}}
		checkpoints := &fakeCheckpoints{positions: map[string]int64{"changefeed-relay": 1}}
		broker := &fakeBroker{}
		relay := changefeed.NewRelay(feed, checkpoints, changefeed.NewForwarder(broker, nil, nil), changefeed.RelayConfig{})

		require.NoError(t, relay.Poll(ctx))
		require.Len(t, broker.published, 1)
		assert.Equal(t, int64(2), broker.published[0].envelope.Sequence)
	})
}

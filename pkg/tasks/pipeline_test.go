package tasks_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/plaenen/taskstream/pkg/audit"
	"github.com/plaenen/taskstream/pkg/batch"
	"github.com/plaenen/taskstream/pkg/changefeed"
	"github.com/plaenen/taskstream/pkg/domain"
	"github.com/plaenen/taskstream/pkg/eventsourcing"
	"github.com/plaenen/taskstream/pkg/sqlite"
	"github.com/plaenen/taskstream/pkg/tasks"
	"github.com/plaenen/taskstream/pkg/update"
)

// capturingBroker hands published envelopes straight to the audit
// consumer, standing in for the stream.
type capturingBroker struct {
	records []batch.Record
}

func (b *capturingBroker) Publish(ctx context.Context, partitionKey string, data []byte) error {
	b.records = append(b.records, batch.Record{
		RecordID: strconv.Itoa(len(b.records) + 1),
		Data:     data,
	})
	return nil
}

// TestPipeline drives a Task from command to view row to audit object
// through the same components the binaries wire together.
func TestPipeline(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.Open(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewEventStore(db)
	views := sqlite.NewViewStore[tasks.View](db, "task_view")
	query := tasks.NewViewQuery(views, nil, nil)

	exec := eventsourcing.NewExecutor[tasks.Command, tasks.Event, *tasks.Task](
		store,
		sqlite.NewSnapshotStore(db),
		func() *tasks.Task { return &tasks.Task{} },
		tasks.DecodeEvent,
		[]eventsourcing.Query{query},
		eventsourcing.ExecutorConfig{},
	)

	// Write path: create, then partially update.
	_, err = exec.Execute(ctx, "t1", tasks.CreateCommand{
		ID:    "t1",
		Input: tasks.CreateInput{Name: "groceries", Summary: str("buy milk")},
	}, nil)
	require.NoError(t, err)

	done := true
	events, err := exec.Execute(ctx, "t1", tasks.UpdateCommand{Input: tasks.UpdateInput{
		Name:    str("chores"),
		Summary: update.Empty[string](),
		Done:    &done,
	}}, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Read side caught up synchronously through the dispatched query.
	row, _, found, err := views.LoadWithContext(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "t1", row.ID)
	assert.Equal(t, "chores", row.Task.Name)
	assert.Nil(t, row.Task.Summary)
	assert.True(t, row.Task.Done)
	assert.Equal(t, events[0].Metadata.CommandID(), row.CommandID)

	// The relay drains the change feed into the broker.
	broker := &capturingBroker{}
	relay := changefeed.NewRelay(
		store,
		sqlite.NewCheckpointStore(db),
		changefeed.NewForwarder(broker, nil, nil),
		changefeed.RelayConfig{},
	)
	require.NoError(t, relay.Poll(ctx))
	require.Len(t, broker.records, 2)

	// The audit consumer lands every envelope under its canonical key.
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	consumer := audit.NewConsumer(bucket, nil, nil)
	consumer.RegisterValidator(tasks.AggregateType, tasks.SummaryRejectValidator{})

	result := consumer.HandleBatch(ctx, broker.records)
	require.False(t, result.Failed())

	stored, err := bucket.ReadAll(ctx, "events/Task/t1-2.json")
	require.NoError(t, err)

	var env domain.Envelope
	require.NoError(t, json.Unmarshal(stored, &env))
	assert.Equal(t, tasks.EventTypeUpdated, env.EventType)

	payload, err := tasks.DecodeEvent(env.EventType, []byte(env.Payload))
	require.NoError(t, err)
	updated, ok := payload.(tasks.Updated)
	require.True(t, ok)
	assert.True(t, updated.Update.Summary.IsEmpty())

	// A second task under a generated id lives on its own stream.
	id := tasks.NewTaskID()
	require.NotEmpty(t, id)
	_, err = exec.Execute(ctx, id, tasks.CreateCommand{ID: id, Input: tasks.CreateInput{Name: "errands"}}, nil)
	require.NoError(t, err)

	other, _, found, err := views.LoadWithContext(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "errands", other.Task.Name)
}

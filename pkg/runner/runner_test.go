package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/taskstream/pkg/runner"
)

// fakeService records start/stop calls on a shared journal.
type fakeService struct {
	name     string
	journal  *journal
	startErr error
	stopErr  error
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	s.journal.add("start " + s.name)
	return s.startErr
}

func (s *fakeService) Stop(ctx context.Context) error {
	s.journal.add("stop " + s.name)
	return s.stopErr
}

func TestRunnerRun(t *testing.T) {
	t.Run("StartsInOrderStopsInReverse", func(t *testing.T) {
		j := &journal{}
		a := &fakeService{name: "a", journal: j}
		b := &fakeService{name: "b", journal: j}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := runner.New([]runner.Service{a, b})
		require.NoError(t, r.Run(ctx))
		assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, j.entries)
	})

	t.Run("StartupFailureStopsStartedServices", func(t *testing.T) {
		j := &journal{}
		a := &fakeService{name: "a", journal: j}
		b := &fakeService{name: "b", journal: j, startErr: errors.New("boom")}
		c := &fakeService{name: "c", journal: j}

		r := runner.New([]runner.Service{a, b, c})
		err := r.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "start b")
		assert.Equal(t, []string{"start a", "start b", "stop a"}, j.entries)
	})

	t.Run("CollectsStopErrors", func(t *testing.T) {
		j := &journal{}
		a := &fakeService{name: "a", journal: j, stopErr: errors.New("a failed")}
		b := &fakeService{name: "b", journal: j, stopErr: errors.New("b failed")}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := runner.New([]runner.Service{a, b})
		err := r.Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stop a")
		assert.Contains(t, err.Error(), "stop b")
	})
}

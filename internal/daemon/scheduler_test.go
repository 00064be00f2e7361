package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/memoryd/internal/metrics"
)

func TestScheduler_Schedule(t *testing.T) {
	t.Run("returns job id for valid interval", func(t *testing.T) {
		s, err := NewScheduler(time.Second, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop(context.Background()) })

		id, err := s.Schedule(Task{Name: "test", Interval: 10 * time.Second, Run: func(context.Context) error { return nil }})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		require.Equal(t, []string{"test"}, s.Tasks())
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		s, err := NewScheduler(time.Second, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop(context.Background()) })

		_, err = s.Schedule(Task{Name: "test", Interval: 0, Run: func(context.Context) error { return nil }})
		require.Error(t, err)
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		s, err := NewScheduler(time.Second, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop(context.Background()) })

		task := Task{Name: "dup", Interval: time.Second, Run: func(context.Context) error { return nil }}
		_, err = s.Schedule(task)
		require.NoError(t, err)
		_, err = s.Schedule(task)
		require.Error(t, err)
	})
}

func TestScheduler_FailingTaskKeepsRunning(t *testing.T) {
	rec := newCountingRecorder()
	s, err := NewScheduler(time.Second, rec)
	require.NoError(t, err)

	var runs atomic.Int32
	_, err = s.Schedule(Task{Name: "flaky", Interval: 20 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}})
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	require.GreaterOrEqual(t, rec.taskResult("flaky", metrics.ResultFailed), 3)
}

func TestScheduler_StopHaltsFirings(t *testing.T) {
	s, err := NewScheduler(time.Second, nil)
	require.NoError(t, err)

	var runs atomic.Int32
	_, err = s.Schedule(Task{Name: "tick", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	require.NoError(t, err)
	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, runs.Load())
}

func TestScheduler_RunNow(t *testing.T) {
	s, err := NewScheduler(time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	var runs atomic.Int32
	_, err = s.Schedule(Task{Name: "manual", Interval: time.Hour, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	require.NoError(t, err)
	s.Start()

	require.NoError(t, s.RunNow("manual"))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Error(t, s.RunNow("missing"))
}

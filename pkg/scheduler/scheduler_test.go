package scheduler

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met within deadline")
}

func TestScheduler_SchedulesAndFires(t *testing.T) {
	s := New(slog.Default())
	defer s.Stop()

	var fired atomic.Int32

	s.Schedule("flow:f1:e1", 10*time.Millisecond, func() { fired.Add(1) })

	assert.Equal(t, 1, s.Pending())
	waitFor(t, func() bool { return fired.Load() == 1 })
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_CancelPreventsFire(t *testing.T) {
	s := New(slog.Default())
	defer s.Stop()

	var fired atomic.Int32

	s.Schedule("flow:f1:e1", 20*time.Millisecond, func() { fired.Add(1) })

	require.True(t, s.Cancel("flow:f1:e1"))
	assert.False(t, s.Cancel("flow:f1:e1"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestScheduler_SameKeyReplacesPending(t *testing.T) {
	s := New(slog.Default())
	defer s.Stop()

	var first, second atomic.Int32

	s.Schedule("flow:f1:e1", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("flow:f1:e1", 20*time.Millisecond, func() { second.Add(1) })

	assert.Equal(t, 1, s.Pending())

	waitFor(t, func() bool { return second.Load() == 1 })
	assert.Equal(t, int32(0), first.Load())
}

func TestScheduler_CancelPrefix(t *testing.T) {
	s := New(slog.Default())
	defer s.Stop()

	var fired atomic.Int32

	s.Schedule("flow:f1:e1", 20*time.Millisecond, func() { fired.Add(1) })
	s.Schedule("flow:f1:e2", 20*time.Millisecond, func() { fired.Add(1) })
	s.Schedule("flow:f2:e3", 20*time.Millisecond, func() { fired.Add(1) })

	cancelled := s.CancelPrefix("flow:f1:")
	assert.Equal(t, 2, cancelled)

	waitFor(t, func() bool { return fired.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestScheduler_StopCancelsEverything(t *testing.T) {
	s := New(slog.Default())

	var fired atomic.Int32

	s.Schedule("flow:f1:e1", 20*time.Millisecond, func() { fired.Add(1) })
	s.Schedule("flow:f2:e2", 20*time.Millisecond, func() { fired.Add(1) })

	s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, 0, s.Pending())
}

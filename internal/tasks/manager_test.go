package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRegisterRunsImmediately(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	var runs atomic.Int64
	m.Register("immediate", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	waitFor(t, func() bool { return runs.Load() == 1 })
}

func TestGatedTaskWaitsForWarmup(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	var runs atomic.Int64
	m.StartAfterWarmup("gated", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load())

	m.SignalWarmupDone()
	waitFor(t, func() bool { return runs.Load() == 1 })

	// A second signal must not panic.
	m.SignalWarmupDone()
}

func TestTaskErrorRecorded(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	m.Register("flaky", time.Hour, func(ctx context.Context) error {
		return fmt.Errorf("upstream unavailable")
	})

	waitFor(t, func() bool {
		for _, s := range m.GetStatus() {
			if s.Name == "flaky" && s.RunCount == 1 {
				return true
			}
		}
		return false
	})

	status := m.GetStatus()
	require.Len(t, status, 1)
	assert.Equal(t, "upstream unavailable", status[0].LastError)
	assert.NotZero(t, status[0].LastRun)
}

func TestTaskPanicRecovered(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	m.Register("explosive", time.Hour, func(ctx context.Context) error {
		panic("boom")
	})

	waitFor(t, func() bool {
		status := m.GetStatus()
		return len(status) == 1 && status[0].RunCount == 1
	})
	assert.Equal(t, "panic: boom", m.GetStatus()[0].LastError)
}

func TestOverlappingTickSkipped(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	release := make(chan struct{})
	var runs atomic.Int64
	m.Register("slow", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	waitFor(t, func() bool { return runs.Load() == 1 })
	// Several ticks pass while the first run is still in flight.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int64(1), runs.Load())
	close(release)
}

func TestGetStatusSorted(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	noop := func(ctx context.Context) error { return nil }
	m.Register("zebra", time.Hour, noop)
	m.Register("alpha", time.Hour, noop)
	m.StartAfterWarmup("mid", time.Hour, noop)

	status := m.GetStatus()
	require.Len(t, status, 3)
	assert.Equal(t, "alpha", status[0].Name)
	assert.Equal(t, "mid", status[1].Name)
	assert.Equal(t, "zebra", status[2].Name)
	assert.True(t, status[1].Gated)
	assert.False(t, status[0].Gated)
}

func TestStopCancelsLoops(t *testing.T) {
	m := NewManager()

	started := make(chan struct{})
	m.Register("blocker", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

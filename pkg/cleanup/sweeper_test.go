package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperRunsImmediatelyOnStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := NewSweeper("test", time.Hour, func(ctx context.Context) (int, error) {
		ran <- struct{}{}
		return 0, nil
	})

	s.Start(context.Background())
	defer s.Stop()

	// The hour-long interval means the only way this fires is the
	// startup sweep.
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("startup sweep never ran")
	}
}

func TestSweeperRunsOnInterval(t *testing.T) {
	var count atomic.Int32
	s := NewSweeper("test", 10*time.Millisecond, func(ctx context.Context) (int, error) {
		count.Add(1)
		return 1, nil
	})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return count.Load() >= 3 },
		5*time.Second, time.Millisecond)
	s.Stop()
}

func TestSweeperStopWaitsForInFlightSweep(t *testing.T) {
	entered := make(chan struct{})
	var finished atomic.Bool
	s := NewSweeper("test", time.Hour, func(ctx context.Context) (int, error) {
		close(entered)
		<-ctx.Done()
		finished.Store(true)
		return 0, ctx.Err()
	})

	s.Start(context.Background())
	<-entered

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after cancelling the in-flight sweep")
	}
	assert.True(t, finished.Load(), "Stop returned before the sweep observed cancellation")
}

func TestSweeperStopPreventsFurtherSweeps(t *testing.T) {
	var count atomic.Int32
	s := NewSweeper("test", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		count.Add(1)
		return 0, nil
	})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return count.Load() >= 1 },
		5*time.Second, time.Millisecond)
	s.Stop()

	at := count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, at, count.Load())
}

func TestSweeperSurvivesSweepErrors(t *testing.T) {
	var count atomic.Int32
	s := NewSweeper("test", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		count.Add(1)
		return 0, errors.New("transient failure")
	})

	s.Start(context.Background())
	defer s.Stop()

	// A failing sweep is logged, not fatal: the loop keeps ticking.
	require.Eventually(t, func() bool { return count.Load() >= 3 },
		5*time.Second, time.Millisecond)
}

func TestSweeperStopWithoutStart(t *testing.T) {
	s := NewSweeper("test", time.Hour, func(ctx context.Context) (int, error) {
		return 0, nil
	})
	s.Stop()
}

package safepoint

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollFastPathNoOverheadWhenIdle(t *testing.T) {
	c := New(4)
	// Poll must return immediately when no pause is pending.
	done := make(chan struct{})
	go func() { c.Poll(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll blocked with no pending pause")
	}
}

func TestRequestRejectsOverlap(t *testing.T) {
	c := New(1)
	require.NoError(t, c.Request(ReasonGC))
	require.Error(t, c.Request(ReasonSnapshot))
	c.Resume(0)
}

func TestAllWorkersParkThenResume(t *testing.T) {
	c := New(3)
	require.NoError(t, c.Request(ReasonGC))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Poll()
		}()
	}

	require.True(t, c.Wait(time.Second))
	c.Resume(5 * time.Millisecond)
	wg.Wait()

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Total)
}

func TestWaitTimesOutWithStuckWorker(t *testing.T) {
	c := New(2) // only 1 of 2 workers will ever poll
	require.NoError(t, c.Request(ReasonGC))
	go c.Poll()
	require.False(t, c.Wait(50*time.Millisecond))
	c.Resume(0)
}

func TestActiveReason(t *testing.T) {
	c := New(1)
	_, ok := c.ActiveReason()
	require.False(t, ok)

	require.NoError(t, c.Request(ReasonDebug))
	r, ok := c.ActiveReason()
	require.True(t, ok)
	require.Equal(t, ReasonDebug, r)
	c.Resume(0)
}

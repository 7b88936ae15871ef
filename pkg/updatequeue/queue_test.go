package updatequeue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOWithinLane(t *testing.T) {
	q := New(Options{})
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		err := q.Enqueue(42, func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 10)
	for i, got := range order {
		assert.Equal(t, i, got, "lane must preserve enqueue order")
	}
}

func TestQueue_LanesRunConcurrently(t *testing.T) {
	q := New(Options{})
	defer q.Close()

	gate := make(chan struct{})
	blockedStarted := make(chan struct{})
	otherDone := make(chan struct{})

	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		close(blockedStarted)
		<-gate
		return nil
	}))

	<-blockedStarted

	require.NoError(t, q.Enqueue(2, func(ctx context.Context) error {
		close(otherDone)
		return nil
	}))

	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("lane 2 must not wait for lane 1")
	}

	close(gate)
}

func TestQueue_CloseDrains(t *testing.T) {
	q := New(Options{})

	var mu sync.Mutex
	executed := 0

	for lane := int64(1); lane <= 3; lane++ {
		for i := 0; i < 4; i++ {
			require.NoError(t, q.Enqueue(lane, func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				executed++
				mu.Unlock()
				return nil
			}))
		}
	}

	require.NoError(t, q.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 12, executed, "Close must drain every lane")
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := New(Options{})
	require.NoError(t, q.Close())

	err := q.Enqueue(1, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_LaneFull(t *testing.T) {
	q := New(Options{LaneBuffer: 1})
	defer q.Close()

	gate := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		close(started)
		<-gate
		return nil
	}))
	<-started

	// Worker is busy, so this one occupies the single buffer slot.
	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error { return nil }))

	err := q.Enqueue(1, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLaneFull)

	// A different lane is unaffected.
	require.NoError(t, q.Enqueue(2, func(ctx context.Context) error { return nil }))

	close(gate)
}

func TestQueue_TaskErrorDoesNotStopLane(t *testing.T) {
	q := New(Options{})
	defer q.Close()

	done := make(chan struct{})

	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		return errors.New("turn failed")
	}))
	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lane must keep running after a task error")
	}
}

func TestQueue_PanicRecovered(t *testing.T) {
	q := New(Options{})
	defer q.Close()

	done := make(chan struct{})

	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		panic("handler bug")
	}))
	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lane must survive a panicking task")
	}
}

func TestQueue_Stats(t *testing.T) {
	q := New(Options{})
	defer q.Close()

	gate := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		close(started)
		<-gate
		return nil
	}))
	<-started

	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error { return nil }))

	stats := q.Stats()
	assert.Equal(t, 1, stats.Lanes)
	assert.Equal(t, 1, stats.Queued)

	close(gate)
}

func TestQueue_IdleLaneRetires(t *testing.T) {
	q := New(Options{IdleAfter: 30 * time.Millisecond})
	defer q.Close()

	done := make(chan struct{})
	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		close(done)
		return nil
	}))
	<-done

	assert.Eventually(t, func() bool {
		return q.Stats().Lanes == 0
	}, time.Second, 10*time.Millisecond, "idle lane must retire")

	// The lane restarts transparently.
	again := make(chan struct{})
	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		close(again)
		return nil
	}))

	select {
	case <-again:
	case <-time.After(time.Second):
		t.Fatal("retired lane must restart on demand")
	}
}

func TestQueue_TaskTimeout(t *testing.T) {
	q := New(Options{TaskTimeout: 30 * time.Millisecond})
	defer q.Close()

	expired := make(chan bool, 1)
	require.NoError(t, q.Enqueue(1, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			expired <- true
		case <-time.After(time.Second):
			expired <- false
		}
		return ctx.Err()
	}))

	select {
	case ok := <-expired:
		assert.True(t, ok, "task context must expire after the timeout")
	case <-time.After(2 * time.Second):
		t.Fatal("task never observed its deadline")
	}
}

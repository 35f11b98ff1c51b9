package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_SameShardKeyRunsInOrder(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 4, QueueSize: 100, Logger: zap.NewNop()})
	defer pool.Stop(time.Second)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, pool.Submit(Task{
			ID:       fmt.Sprintf("task-%d", i),
			ShardKey: "tenant-1/students",
			Fn: func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			},
		}))
	}

	require.NoError(t, pool.WaitIdle(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestWorkerPool_StopDrainsQueuedTasks(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 10, Logger: zap.NewNop()})

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(Task{
			ID: fmt.Sprintf("task-%d", i),
			Fn: func(context.Context) error {
				time.Sleep(time.Millisecond)
				mu.Lock()
				ran++
				mu.Unlock()
				return nil
			},
		}))
	}

	require.NoError(t, pool.Stop(5*time.Second))

	mu.Lock()
	assert.Equal(t, 5, ran)
	mu.Unlock()
	assert.Equal(t, 0, pool.Pending())

	err := pool.Submit(Task{ID: "late", Fn: func(context.Context) error { return nil }})
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestWorkerPool_RejectsWhenQueueFull(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1, Logger: zap.NewNop()})
	defer pool.Stop(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(Task{ID: "blocker", Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.NoError(t, pool.Submit(Task{ID: "queued", Fn: func(context.Context) error { return nil }}))
	err := pool.Submit(Task{ID: "overflow", Fn: func(context.Context) error { return nil }})
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, pool.Pending())

	close(release)
	require.NoError(t, pool.WaitIdle(context.Background()))
	assert.Equal(t, uint64(1), pool.Stats().RejectedTasks)
}

func TestWorkerPool_FailuresAndPanicsAreCounted(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 2, QueueSize: 10, Logger: zap.NewNop()})
	defer pool.Stop(time.Second)

	require.NoError(t, pool.Submit(Task{ID: "ok", Fn: func(context.Context) error { return nil }}))
	require.NoError(t, pool.Submit(Task{ID: "err", Fn: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, pool.Submit(Task{ID: "panic", Fn: func(context.Context) error { panic("boom") }}))

	require.NoError(t, pool.WaitIdle(context.Background()))

	stats := pool.Stats()
	assert.Equal(t, uint64(3), stats.TotalTasks)
	assert.Equal(t, uint64(1), stats.CompletedTasks)
	assert.Equal(t, uint64(2), stats.FailedTasks)
	assert.InDelta(t, 33.3, stats.SuccessRate(), 0.1)
}

func TestWorkerPool_WaitIdleHonoursContext(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1, Logger: zap.NewNop()})

	release := make(chan struct{})
	require.NoError(t, pool.Submit(Task{ID: "slow", Fn: func(context.Context) error {
		<-release
		return nil
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.WaitIdle(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, pool.Stop(time.Second))
}

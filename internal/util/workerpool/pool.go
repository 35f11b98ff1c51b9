package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Submit errors
var (
	ErrStopped   = errors.New("worker pool is stopped")
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Task represents a unit of work to be executed
type Task struct {
	ID string
	// ShardKey pins the task to one worker so tasks sharing a key run in
	// submission order. Tasks without a key are spread round-robin.
	ShardKey string
	Fn       func(context.Context) error
	Context  context.Context
}

// WorkerPool runs tasks on a fixed set of workers, each with its own queue
type WorkerPool struct {
	name           string
	lanes          []chan Task
	queueSize      int
	logger         *zap.Logger
	wg             sync.WaitGroup
	mu             sync.RWMutex
	stopped        bool
	stopOnce       sync.Once
	nextLane       uint64
	activeWorkers  int32
	pending        int64
	totalTasks     uint64
	completedTasks uint64
	failedTasks    uint64
	rejectedTasks  uint64
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int // Per worker
	Logger     *zap.Logger
}

// NewWorkerPool creates a new worker pool and starts its workers
func NewWorkerPool(cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pool := &WorkerPool{
		name:      cfg.Name,
		lanes:     make([]chan Task, cfg.MaxWorkers),
		queueSize: cfg.QueueSize,
		logger:    cfg.Logger,
	}

	for i := range pool.lanes {
		pool.lanes[i] = make(chan Task, cfg.QueueSize)
		pool.wg.Add(1)
		go pool.worker(i, pool.lanes[i])
	}

	pool.logger.Info("Worker pool started",
		zap.String("name", pool.name),
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.Int("queue_size", pool.queueSize))

	return pool
}

// worker drains its lane until the lane is closed
func (p *WorkerPool) worker(id int, lane <-chan Task) {
	defer p.wg.Done()

	for task := range lane {
		p.executeTask(id, task)
	}

	p.logger.Debug("Worker stopped",
		zap.String("pool", p.name),
		zap.Int("worker_id", id))
}

// executeTask executes a single task
func (p *WorkerPool) executeTask(workerID int, task Task) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer atomic.AddInt64(&p.pending, -1)

	start := time.Now()
	err := p.safeExecute(task)
	duration := time.Since(start)

	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Debug("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		atomic.AddUint64(&p.completedTasks, 1)
		p.logger.Debug("Task completed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration))
	}
}

// safeExecute executes a task with panic recovery
func (p *WorkerPool) safeExecute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	if task.Context == nil {
		task.Context = context.Background()
	}

	return task.Fn(task.Context)
}

// laneFor picks the worker queue for a task
func (p *WorkerPool) laneFor(task Task) chan Task {
	n := uint64(len(p.lanes))
	if task.ShardKey == "" {
		return p.lanes[atomic.AddUint64(&p.nextLane, 1)%n]
	}
	return p.lanes[xxhash.Sum64String(task.ShardKey)%n]
}

// Submit enqueues a task without blocking.
// Returns an error if the task's queue is full or the pool is stopped.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("%s: %w", p.name, ErrStopped)
	}

	atomic.AddInt64(&p.pending, 1)
	select {
	case p.laneFor(task) <- task:
		atomic.AddUint64(&p.totalTasks, 1)
		return nil
	default:
		atomic.AddInt64(&p.pending, -1)
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("%s: %w", p.name, ErrQueueFull)
	}
}

// Pending returns the number of accepted tasks that have not finished
func (p *WorkerPool) Pending() int {
	return int(atomic.LoadInt64(&p.pending))
}

// WaitIdle blocks until every accepted task has finished or ctx is done
func (p *WorkerPool) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for p.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stop stops accepting tasks, lets workers drain what is already queued
// and waits up to timeout for them to finish
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool", zap.String("name", p.name))

		p.mu.Lock()
		p.stopped = true
		for _, lane := range p.lanes {
			close(lane)
		}
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("Worker pool stopped gracefully", zap.String("name", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		}
	})
	return err
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	queued := 0
	for _, lane := range p.lanes {
		queued += len(lane)
	}

	return Stats{
		Name:           p.name,
		MaxWorkers:     len(p.lanes),
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		QueueSize:      p.queueSize * len(p.lanes),
		QueuedTasks:    queued,
		TotalTasks:     atomic.LoadUint64(&p.totalTasks),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
		RejectedTasks:  atomic.LoadUint64(&p.rejectedTasks),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueueSize      int
	QueuedTasks    int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

// SuccessRate returns the task success rate as a percentage
func (s Stats) SuccessRate() float64 {
	if s.TotalTasks == 0 {
		return 100.0
	}
	return (float64(s.CompletedTasks) / float64(s.TotalTasks)) * 100.0
}

package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrExecutorClosed is returned by Submit after Close.
var ErrExecutorClosed = errors.New("async executor closed")

// Task is one unit of venue work run off the caller's goroutine.
type Task struct {
	ID     string
	Symbol string
	Run    func(ctx context.Context) (any, error)
}

// ExecutionResult represents the outcome of a task.
type ExecutionResult struct {
	TaskID    string
	Symbol    string
	Value     any
	Err       error
	Latency   time.Duration
	Timestamp time.Time
}

// AsyncExecutor runs tasks on a bounded number of workers and delivers every
// result on Results. Results are never dropped: a worker waits until the
// consumer takes its result.
type AsyncExecutor struct {
	resultCh   chan ExecutionResult
	workerPool chan struct{}
	wg         sync.WaitGroup
	closed     bool
	mu         sync.Mutex
	log        *zap.Logger
}

// NewAsyncExecutor creates an async executor with the given worker count.
func NewAsyncExecutor(workers int, log *zap.Logger) *AsyncExecutor {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncExecutor{
		resultCh:   make(chan ExecutionResult, workers),
		workerPool: make(chan struct{}, workers),
		log:        log.Named("async"),
	}
}

// Submit schedules t without blocking the caller. The worker slot is taken
// inside the task goroutine so a caller that also consumes Results cannot
// deadlock against a full pool.
func (a *AsyncExecutor) Submit(ctx context.Context, t Task) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrExecutorClosed
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		a.workerPool <- struct{}{}
		defer func() { <-a.workerPool }()

		start := time.Now()
		value, err := t.Run(ctx)
		result := ExecutionResult{
			TaskID:    t.ID,
			Symbol:    t.Symbol,
			Value:     value,
			Err:       err,
			Latency:   time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			a.log.Debug("task failed", zap.String("task", t.ID), zap.String("symbol", t.Symbol), zap.Duration("latency", result.Latency), zap.Error(err))
		} else {
			a.log.Debug("task done", zap.String("task", t.ID), zap.String("symbol", t.Symbol), zap.Duration("latency", result.Latency))
		}
		a.resultCh <- result
	}()
	return nil
}

// Results returns the result channel. It is closed once Close was called and
// every submitted task delivered its result.
func (a *AsyncExecutor) Results() <-chan ExecutionResult {
	return a.resultCh
}

// Pending returns the number of tasks currently holding a worker.
func (a *AsyncExecutor) Pending() int {
	return len(a.workerPool)
}

// Close rejects new tasks and closes Results after in-flight tasks finish.
// The caller must keep draining Results.
func (a *AsyncExecutor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	go func() {
		a.wg.Wait()
		close(a.resultCh)
	}()
}

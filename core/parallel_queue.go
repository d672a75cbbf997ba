package core

import (
	"context"
	"sync"
	"time"

	"github.com/petermattis/goid"
)

// ParallelTaskQueue drains one shared task tree with a pool of N workers.
// Because workers claim tasks concurrently there is no ordering guarantee
// between tasks; that is the only reason to choose it over a SerialTaskQueue.
// Delayed-task promotion is serialised by the queue mutex.
type ParallelTaskQueue struct {
	TaskQueue

	pool     *ThreadPool
	wake     chan struct{}
	stopOnce sync.Once
}

// NewParallelTaskQueue creates a queue drained by `workers` threads and waits
// until all of them are running.
func NewParallelTaskQueue(name string, workers int) *ParallelTaskQueue {
	return NewParallelTaskQueueWithConfig(name, workers, nil)
}

// NewParallelTaskQueueWithConfig is NewParallelTaskQueue with explicit
// collaborators and worker priority.
func NewParallelTaskQueueWithConfig(name string, workers int, config *QueueConfig) *ParallelTaskQueue {
	if workers < 1 {
		workers = 1
	}
	config = config.withDefaults()
	q := &ParallelTaskQueue{wake: make(chan struct{}, workers)}
	q.TaskQueue.init(name, config)
	q.sameThreadFn = func() bool { return q.pool.ContainsThreadID(goid.Get()) }
	q.runningFn = func() bool { return q.pool.IsStarted() }
	q.setNotify(q.signalWake)

	q.pool = NewThreadPool(name, workers, config.ThreadPriority, q.workerLoop)
	q.pool.SetLogger(config.Logger)
	_ = q.pool.Start()
	return q
}

// Pool returns the worker pool.
func (q *ParallelTaskQueue) Pool() *ThreadPool {
	return q.pool
}

// Concurrency returns the number of workers.
func (q *ParallelTaskQueue) Concurrency() int {
	return q.pool.Size()
}

func (q *ParallelTaskQueue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// workerLoop is the per-worker draining procedure. All workers share the
// ready queue and the delayed set; each sleeps on its own timer but on the
// common wake channel, so any send wakes exactly one idle worker.
func (q *ParallelTaskQueue) workerLoop(stop *StopToken) {
	ctx := withQueue(context.Background(), q)
	q.setRunContext(ctx)

	timer := time.NewTimer(time.Hour)
	drainTimer(timer)
	defer timer.Stop()

	for !stop.IsStopping() {
		now := time.Now()
		nextDeadline := q.enqueueDelayedTasks(now)
		if t := q.acquireNextTask(); t != nil {
			q.executeTask(ctx, t)
		} else if nextDeadline.After(now) {
			timer.Reset(time.Until(nextDeadline))
			select {
			case <-timer.C:
			case <-q.wake:
				drainTimer(timer)
			case <-stop.Done():
				drainTimer(timer)
			}
		} else if q.AcceptsTasks() {
			select {
			case <-q.wake:
			case <-stop.Done():
			}
		} else {
			break
		}
		q.clearDeadSubQueues()
	}

	q.setAcceptsTasks(false)
	q.drainLeftovers(ctx)
}

// Stop flips accepts-tasks off, stops every worker and, when called from
// outside the pool, waits for them to drain the leftovers. Pending delayed
// tasks are implicitly cancelled. Idempotent.
func (q *ParallelTaskQueue) Stop() {
	q.stopOnce.Do(func() {
		q.setAcceptsTasks(false)
		q.pool.Stop()
		if !q.IsSameThread() {
			q.pool.Join()
		}
		q.releaseSubQueues()
	})
}

package threads

import (
	"context"
	"time"

	"github.com/signalcraft/go-threads/core"
)

// Re-export commonly used types from core package for convenience.
// This allows users to import only the threads package for most use cases.

// Task is the unit of work dispatched onto a queue's servicing thread.
type Task = core.Task

// Queue is the contract shared by every task queue variant.
type Queue = core.Queue

// TaskQueue is the base task container; sub-queues are bare TaskQueues.
type TaskQueue = core.TaskQueue

// SerialTaskQueue drains its task tree on exactly one thread.
type SerialTaskQueue = core.SerialTaskQueue

// ParallelTaskQueue drains one shared task tree with a pool of workers.
type ParallelTaskQueue = core.ParallelTaskQueue

// Thread owns one OS thread running a user procedure.
type Thread = core.Thread

// ThisThread adopts the caller's goroutine instead of spawning one.
type ThisThread = core.ThisThread

// ThreadPool is a fixed-size bag of Threads running the same procedure.
type ThreadPool = core.ThreadPool

// ThreadProcedure is the body of a Thread.
type ThreadProcedure = core.ThreadProcedure

// StopToken and StartToken expose a thread's lifecycle to its procedure and
// its starter.
type (
	StopToken  = core.StopToken
	StartToken = core.StartToken
)

// TaskHandle permits cancelling a task until it has started.
type TaskHandle = core.TaskHandle

// TaskHandleWithFuture combines a cancellation handle with the task's result.
type TaskHandleWithFuture[R any] = core.TaskHandleWithFuture[R]

// Signal is a multicast emitter; Connection is the handle returned from
// Connect.
type (
	Signal[T any]     = core.Signal[T]
	Connection[T any] = core.Connection[T]
)

// QueueConfig carries optional collaborators for queue constructors.
type QueueConfig = core.QueueConfig

// Thread priorities.
type ThreadPriority = core.ThreadPriority

const (
	PriorityDefault  ThreadPriority = core.PriorityDefault
	PriorityLow      ThreadPriority = core.PriorityLow
	PriorityHigh     ThreadPriority = core.PriorityHigh
	PriorityRealTime ThreadPriority = core.PriorityRealTime
)

// Errors.
var (
	ErrNotAccepting   = core.ErrNotAccepting
	ErrNotRunning     = core.ErrNotRunning
	ErrAlreadyStarted = core.ErrAlreadyStarted
	ErrBrokenPromise  = core.ErrBrokenPromise
)

// Constructors.
var (
	NewThread                  = core.NewThread
	NewThreadWithPriority      = core.NewThreadWithPriority
	NewThisThread              = core.NewThisThread
	NewThreadPool              = core.NewThreadPool
	NewSerialTaskQueue         = core.NewSerialTaskQueue
	NewSerialTaskQueueOnThread = core.NewSerialTaskQueueOnThread
	NewParallelTaskQueue       = core.NewParallelTaskQueue
	Procedure                  = core.Procedure
	GetCurrentQueue            = core.GetCurrentQueue
	DefaultQueueConfig         = core.DefaultQueueConfig
)

// NewSignal creates an empty signal for payload type T. Zero-argument
// signals use NewSignal[struct{}].
func NewSignal[T any]() *Signal[T] {
	return core.NewSignal[T]()
}

// SendAsync enqueues a result-bearing callable and returns a handle carrying
// its future.
func SendAsync[R any](q Queue, fn func(ctx context.Context) (R, error)) (*TaskHandleWithFuture[R], error) {
	return core.SendAsync(q, fn)
}

// SendSync enqueues a result-bearing callable and blocks until it completes.
func SendSync[R any](ctx context.Context, q Queue, fn func(ctx context.Context) (R, error)) (R, error) {
	return core.SendSync(ctx, q, fn)
}

// SendWait enqueues a plain callable and blocks until it has run.
func SendWait(ctx context.Context, q Queue, fn Task) error {
	return core.SendWait(ctx, q, fn)
}

// SendDelayedAsync is the delayed variant of SendAsync.
func SendDelayedAsync[R any](q Queue, fn func(ctx context.Context) (R, error), delay time.Duration) (*TaskHandleWithFuture[R], error) {
	return core.SendDelayedAsync(q, fn, delay)
}

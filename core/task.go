package core

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Task is the unit of work dispatched onto a queue's servicing thread. The
// context carries the queue it is running on, see GetCurrentQueue.
type Task func(ctx context.Context)

// task wraps a callable with the at-most-once execute/cancel state machine.
// Execute and cancel race via compare-and-swap; the loser becomes a no-op.
type task struct {
	state    atomic.Int32
	run      Task
	onCancel func()
}

const (
	taskQueued int32 = iota
	taskStarted
	taskExecuted
	taskCancelled
)

func newTask(run Task) *task {
	return &task{run: run}
}

// execute runs the task body unless it was cancelled or already ran.
// Reports whether the body actually executed.
func (t *task) execute(ctx context.Context) bool {
	if !t.state.CompareAndSwap(taskQueued, taskStarted) {
		return false
	}
	t.run(ctx)
	t.state.Store(taskExecuted)
	return true
}

// cancel moves the task to the terminal Cancelled state if it has not started.
func (t *task) cancel() {
	if !t.state.CompareAndSwap(taskQueued, taskCancelled) {
		return
	}
	if t.onCancel != nil {
		t.onCancel()
	}
}

// TaskHandle is returned from SendDelayed and the async send variants. It
// permits cancellation until the task has started executing.
type TaskHandle struct {
	task *task
}

// Cancel prevents the task from running if it has not started yet. After
// Cancel returns, the task is either Cancelled and will never run, or it had
// already started and will run to completion.
func (h *TaskHandle) Cancel() {
	if h != nil && h.task != nil {
		h.task.cancel()
	}
}

// IsExecuted reports whether the task body ran to completion.
func (h *TaskHandle) IsExecuted() bool {
	return h != nil && h.task != nil && h.task.state.Load() == taskExecuted
}

// IsCancelled reports whether the task was cancelled before it could start.
func (h *TaskHandle) IsCancelled() bool {
	return h != nil && h.task != nil && h.task.state.Load() == taskCancelled
}

// future is a one-shot result slot. The first complete wins; Get blocks until
// completion or context cancellation.
type future[R any] struct {
	once  sync.Once
	done  chan struct{}
	value R
	err   error
}

func newFuture[R any]() *future[R] {
	return &future[R]{done: make(chan struct{})}
}

func (f *future[R]) complete(value R, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

func (f *future[R]) get(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// TaskHandleWithFuture combines a cancellation handle with the task's result.
type TaskHandleWithFuture[R any] struct {
	TaskHandle
	fut *future[R]
}

// Get blocks until the task completes and returns its result, the error it
// returned, ErrBrokenPromise if it was cancelled, or a PanicError if its body
// panicked. The context bounds the caller-side wait only; the task itself is
// not cancelled by it.
func (h *TaskHandleWithFuture[R]) Get(ctx context.Context) (R, error) {
	return h.fut.get(ctx)
}

// SendAsync enqueues a result-bearing callable and returns a handle carrying
// its future. If the caller is already on the queue's servicing thread the
// callable executes inline, so nested synchronous sends cannot deadlock.
func SendAsync[R any](q Queue, fn func(ctx context.Context) (R, error)) (*TaskHandleWithFuture[R], error) {
	b := q.base()
	if !b.AcceptsTasks() {
		return nil, ErrNotAccepting
	}

	fut := newFuture[R]()
	t := newTask(func(ctx context.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				var zero R
				fut.complete(zero, &PanicError{Value: rec, Stack: debug.Stack()})
			}
		}()
		value, err := fn(ctx)
		fut.complete(value, err)
	})
	t.onCancel = func() {
		var zero R
		fut.complete(zero, ErrBrokenPromise)
	}
	handle := &TaskHandleWithFuture[R]{TaskHandle: TaskHandle{task: t}, fut: fut}

	if b.IsSameThread() {
		t.execute(b.runContext())
		return handle, nil
	}
	if err := b.enqueue(t); err != nil {
		return nil, err
	}
	return handle, nil
}

// SendSync enqueues a result-bearing callable and blocks until it completes.
// Fails with ErrNotRunning when the queue has no servicing thread yet, which
// would otherwise be a guaranteed deadlock.
func SendSync[R any](ctx context.Context, q Queue, fn func(ctx context.Context) (R, error)) (R, error) {
	var zero R
	if !q.base().isRunning() {
		return zero, ErrNotRunning
	}
	handle, err := SendAsync(q, fn)
	if err != nil {
		return zero, err
	}
	return handle.Get(ctx)
}

// SendWait enqueues a plain callable and blocks until it has run.
func SendWait(ctx context.Context, q Queue, fn Task) error {
	_, err := SendSync(ctx, q, func(ctx context.Context) (struct{}, error) {
		fn(ctx)
		return struct{}{}, nil
	})
	return err
}

// SendDelayedAsync is the delayed variant of SendAsync. The returned handle
// can cancel the task until it starts executing, including after it has been
// promoted to the ready queue.
func SendDelayedAsync[R any](q Queue, fn func(ctx context.Context) (R, error), delay time.Duration) (*TaskHandleWithFuture[R], error) {
	b := q.base()
	fut := newFuture[R]()
	t := newTask(func(ctx context.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				var zero R
				fut.complete(zero, &PanicError{Value: rec, Stack: debug.Stack()})
			}
		}()
		value, err := fn(ctx)
		fut.complete(value, err)
	})
	t.onCancel = func() {
		var zero R
		fut.complete(zero, ErrBrokenPromise)
	}
	if err := b.enqueueDelayed(t, delay); err != nil {
		return nil, err
	}
	return &TaskHandleWithFuture[R]{TaskHandle: TaskHandle{task: t}, fut: fut}, nil
}

package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAccepting is returned by the send variants when the queue has been
	// signalled for stopping and no longer accepts tasks.
	ErrNotAccepting = errors.New("task queue is not accepting tasks")

	// ErrNotRunning is returned by the blocking send variants when the queue's
	// servicing thread has not started yet. Blocking on a queue with no drainer
	// would deadlock the caller.
	ErrNotRunning = errors.New("task queue is not running")

	// ErrAlreadyStarted is returned by Start on a running Thread or ThreadPool.
	ErrAlreadyStarted = errors.New("thread has already started")

	// ErrNotStarted is returned by ThisThread.Start when no procedure has been
	// installed, so nothing was started.
	ErrNotStarted = errors.New("thread has not started")

	// ErrBrokenPromise completes the future of an async task that was cancelled
	// or abandoned before it could execute.
	ErrBrokenPromise = errors.New("broken promise")

	// ErrHostQueueGone reports that a signal slot's target queue has been
	// collected. The slot is skipped; emission continues to the remaining slots.
	ErrHostQueueGone = errors.New("host queue is gone")
)

// PanicError wraps a panic recovered from a task body so it can travel
// through a future to the caller of SendSync / Get.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

package core

import (
	"context"
	"sync"
	"time"

	"github.com/petermattis/goid"
)

// SerialTaskQueue drains its task tree on exactly one thread, preserving FIFO
// order for immediate tasks. It either owns a dedicated Thread (named after
// the queue) or adopts the caller's thread through a ThisThread, in which case
// the caller drives the loop by calling Start on the ThisThread.
type SerialTaskQueue struct {
	TaskQueue

	thread     *Thread
	thisThread *ThisThread
	wake       chan struct{}
	stopOnce   sync.Once
}

// NewSerialTaskQueue creates a queue with its own servicing thread and waits
// until the thread is running, so blocking sends are legal immediately.
func NewSerialTaskQueue(name string) *SerialTaskQueue {
	return NewSerialTaskQueueWithConfig(name, nil)
}

// NewSerialTaskQueueWithConfig is NewSerialTaskQueue with explicit
// collaborators and servicing-thread priority.
func NewSerialTaskQueueWithConfig(name string, config *QueueConfig) *SerialTaskQueue {
	config = config.withDefaults()
	q := &SerialTaskQueue{wake: make(chan struct{}, 1)}
	q.TaskQueue.init(name, config)
	q.setNotify(q.signalWake)

	q.thread = NewThreadWithPriority(name, config.ThreadPriority, q.runLoop)
	q.thread.SetLogger(config.Logger)
	token, _ := q.thread.Start()
	token.Wait()
	q.setThreadID(q.thread.ID())
	return q
}

// NewSerialTaskQueueOnThread creates a queue serviced by the caller's thread.
// The queue installs its drain loop as the ThisThread's procedure; tasks are
// accepted immediately but only execute once the caller invokes
// thisThread.Start(), which blocks until the queue is stopped.
func NewSerialTaskQueueOnThread(thisThread *ThisThread) *SerialTaskQueue {
	return NewSerialTaskQueueOnThreadWithConfig(thisThread, nil)
}

// NewSerialTaskQueueOnThreadWithConfig is NewSerialTaskQueueOnThread with
// explicit collaborators.
func NewSerialTaskQueueOnThreadWithConfig(thisThread *ThisThread, config *QueueConfig) *SerialTaskQueue {
	q := &SerialTaskQueue{wake: make(chan struct{}, 1), thisThread: thisThread}
	q.TaskQueue.init(thisThread.Name(), config)
	q.setNotify(q.signalWake)
	_ = thisThread.SetProcedure(q.runLoop)
	return q
}

// Thread returns the owned servicing thread, or nil in ThisThread mode.
func (q *SerialTaskQueue) Thread() *Thread {
	return q.thread
}

func (q *SerialTaskQueue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// runLoop is the draining algorithm: promote due delayed tasks, execute one
// ready task, otherwise sleep until the next deadline or the next queue
// change. Exceptions never escape; sub-queues abandoned by their owners are
// purged each pass.
func (q *SerialTaskQueue) runLoop(stop *StopToken) {
	q.setThreadID(goid.Get())
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

// Stop flips accepts-tasks off and stops the servicing thread, which then
// runs the leftover ready tasks. Delayed tasks whose deadlines have not
// arrived are implicitly cancelled. With an owned thread, Stop called from
// outside the servicing thread waits for that drain; called from a task, or
// in ThisThread mode, it returns without waiting. Idempotent.
func (q *SerialTaskQueue) Stop() {
	q.stopOnce.Do(func() {
		q.setAcceptsTasks(false)
		switch {
		case q.thread != nil:
			q.thread.Stop()
			q.signalWake()
			if !q.IsSameThread() {
				q.thread.Join()
			}
		case q.thisThread != nil:
			q.thisThread.Stop()
			q.signalWake()
		}
		q.releaseSubQueues()
	})
}

func drainTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

package core

import (
	"container/heap"
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/eapache/queue/v2"
	"github.com/petermattis/goid"
)

// Queue is the contract shared by TaskQueue, SerialTaskQueue,
// ParallelTaskQueue and sub-queues. The generic send variants (SendAsync,
// SendSync, SendWait) accept any of them.
type Queue interface {
	Send(task Task) error
	SendDelayed(task Task, delay time.Duration) (*TaskHandle, error)
	IsSameThread() bool
	AcceptsTasks() bool
	CancelAll()

	base() *TaskQueue
}

// delayedTask binds a task to its promotion deadline. Ties on equal deadlines
// are broken by arrival order.
type delayedTask struct {
	at    time.Time
	seq   uint64
	task  *task
	index int
}

type delayedHeap []*delayedTask

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	item := x.(*delayedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *delayedHeap) peek() *delayedTask {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// TaskQueue is the base task container: a FIFO of ready tasks, a
// deadline-ordered set of delayed tasks, and a list of weakly-referenced
// sub-queues drained by the same servicing thread. SerialTaskQueue and
// ParallelTaskQueue embed it and attach the servicing thread(s);
// CreateSubQueue returns a bare *TaskQueue drained through its parent.
type TaskQueue struct {
	name string

	mu         sync.Mutex
	ready      *queue.Queue[*task]
	delayed    delayedHeap
	delayedSeq uint64
	subQueues  []weak.Pointer[TaskQueue]

	threadID atomic.Int64
	accepts  atomic.Bool

	// Overrides installed by ParallelTaskQueue, where "same thread" means
	// pool membership rather than one id. Inherited by sub-queues.
	sameThreadFn func() bool
	runningFn    func() bool

	notifyMu sync.Mutex
	notify   func()

	runCtx atomic.Value // context.Context of the draining loop

	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler
	history      *executionHistory
}

func newTaskQueue(name string, config *QueueConfig) *TaskQueue {
	q := &TaskQueue{}
	q.init(name, config)
	return q
}

// init prepares an embedded or freshly allocated TaskQueue in place.
func (q *TaskQueue) init(name string, config *QueueConfig) {
	config = config.withDefaults()
	q.name = name
	q.ready = queue.New[*task]()
	q.logger = config.Logger
	q.metrics = config.Metrics
	q.panicHandler = config.PanicHandler
	q.history = newExecutionHistory(defaultTaskHistoryCapacity)
	q.accepts.Store(true)
}

func (q *TaskQueue) base() *TaskQueue { return q }

// Name returns the queue's name.
func (q *TaskQueue) Name() string { return q.name }

// AcceptsTasks reports whether the queue still accepts new tasks.
func (q *TaskQueue) AcceptsTasks() bool { return q.accepts.Load() }

// IsSameThread reports whether the caller is on the queue's servicing thread.
func (q *TaskQueue) IsSameThread() bool {
	if q.sameThreadFn != nil {
		return q.sameThreadFn()
	}
	id := q.threadID.Load()
	return id != 0 && id == goid.Get()
}

func (q *TaskQueue) isRunning() bool {
	if q.runningFn != nil {
		return q.runningFn()
	}
	return q.threadID.Load() != 0
}

// Send enqueues a task for eventual execution on the servicing thread.
func (q *TaskQueue) Send(task Task) error {
	return q.enqueue(newTask(task))
}

// SendDelayed enqueues a task to fire no earlier than now+delay. The returned
// handle permits cancellation until the task starts executing, including after
// it has been promoted to the ready queue.
func (q *TaskQueue) SendDelayed(task Task, delay time.Duration) (*TaskHandle, error) {
	t := newTask(task)
	if err := q.enqueueDelayed(t, delay); err != nil {
		return nil, err
	}
	return &TaskHandle{task: t}, nil
}

func (q *TaskQueue) enqueue(t *task) error {
	q.mu.Lock()
	if !q.accepts.Load() {
		q.mu.Unlock()
		q.rejected("not accepting")
		return ErrNotAccepting
	}
	q.ready.Add(t)
	depth := q.ready.Length()
	q.mu.Unlock()

	q.metrics.RecordQueueDepth(q.name, depth)
	q.notifyChange()
	return nil
}

func (q *TaskQueue) enqueueDelayed(t *task, delay time.Duration) error {
	q.mu.Lock()
	if !q.accepts.Load() {
		q.mu.Unlock()
		q.rejected("not accepting")
		return ErrNotAccepting
	}
	q.delayedSeq++
	heap.Push(&q.delayed, &delayedTask{
		at:   time.Now().Add(delay),
		seq:  q.delayedSeq,
		task: t,
	})
	q.mu.Unlock()

	q.notifyChange()
	return nil
}

func (q *TaskQueue) rejected(reason string) {
	q.logger.Warn("task rejected", F("queue", q.name), F("reason", reason))
	q.metrics.RecordTaskRejected(q.name, reason)
}

// CreateSubQueue returns a child queue that shares this queue's servicing
// thread and accepts-tasks state. The child's lifetime belongs to the caller;
// the parent only holds a weak reference and purges it after collection.
func (q *TaskQueue) CreateSubQueue() *TaskQueue {
	child := newTaskQueue(q.name+"/sub", &QueueConfig{
		Logger:       q.logger,
		Metrics:      q.metrics,
		PanicHandler: q.panicHandler,
	})
	child.sameThreadFn = q.sameThreadFn
	child.runningFn = q.runningFn
	child.threadID.Store(q.threadID.Load())
	child.accepts.Store(q.accepts.Load())
	child.setNotify(q.notifyChange)
	child.setRunContext(withQueue(context.Background(), child))

	q.mu.Lock()
	q.subQueues = append(q.subQueues, weak.Make(child))
	q.mu.Unlock()
	return child
}

// CancelAll cancels every queued and delayed task, recursing into live
// sub-queues. Promise-bearing tasks complete with ErrBrokenPromise.
func (q *TaskQueue) CancelAll() {
	q.mu.Lock()
	delayed := q.delayed
	q.delayed = nil
	var ready []*task
	for q.ready.Length() > 0 {
		ready = append(ready, q.ready.Remove())
	}
	children := q.liveSubQueuesLocked()
	q.mu.Unlock()

	for _, d := range delayed {
		d.task.cancel()
	}
	for _, t := range ready {
		t.cancel()
	}
	for _, child := range children {
		child.CancelAll()
	}
}

// enqueueDelayedTasks promotes every delayed task whose deadline has arrived
// into the ready queue, recursing into live sub-queues. It returns the
// earliest remaining deadline across the whole tree, or now when there is
// none.
func (q *TaskQueue) enqueueDelayedTasks(now time.Time) time.Time {
	q.mu.Lock()
	for {
		next := q.delayed.peek()
		if next == nil || next.at.After(now) {
			break
		}
		heap.Pop(&q.delayed)
		q.ready.Add(next.task)
	}
	timeNext := now
	if head := q.delayed.peek(); head != nil {
		timeNext = head.at
	}
	children := q.liveSubQueuesLocked()
	q.mu.Unlock()

	for _, child := range children {
		childNext := child.enqueueDelayedTasks(now)
		if !childNext.Equal(now) && (childNext.Before(timeNext) || timeNext.Equal(now)) {
			timeNext = childNext
		}
	}
	return timeNext
}

// acquireNextTask pops one ready task: first from this queue's FIFO, then from
// sub-queues in creation order. Fairness between siblings is creation order,
// not round-robin.
func (q *TaskQueue) acquireNextTask() *task {
	q.mu.Lock()
	if q.ready.Length() > 0 {
		t := q.ready.Remove()
		q.mu.Unlock()
		return t
	}
	children := q.liveSubQueuesLocked()
	q.mu.Unlock()

	for _, child := range children {
		if t := child.acquireNextTask(); t != nil {
			return t
		}
	}
	return nil
}

func (q *TaskQueue) liveSubQueuesLocked() []*TaskQueue {
	children := make([]*TaskQueue, 0, len(q.subQueues))
	for _, w := range q.subQueues {
		if child := w.Value(); child != nil {
			children = append(children, child)
		}
	}
	return children
}

// clearDeadSubQueues drops sub-queues whose owners have abandoned them.
func (q *TaskQueue) clearDeadSubQueues() {
	q.mu.Lock()
	live := q.subQueues[:0]
	var children []*TaskQueue
	for _, w := range q.subQueues {
		if child := w.Value(); child != nil {
			live = append(live, w)
			children = append(children, child)
		}
	}
	for i := len(live); i < len(q.subQueues); i++ {
		q.subQueues[i] = weak.Pointer[TaskQueue]{}
	}
	q.subQueues = live
	q.mu.Unlock()

	for _, child := range children {
		child.clearDeadSubQueues()
	}
}

func (q *TaskQueue) setThreadID(id int64) {
	q.threadID.Store(id)
	q.mu.Lock()
	children := q.liveSubQueuesLocked()
	q.mu.Unlock()
	for _, child := range children {
		child.setThreadID(id)
	}
}

func (q *TaskQueue) setAcceptsTasks(accepts bool) {
	q.accepts.Store(accepts)
	q.mu.Lock()
	children := q.liveSubQueuesLocked()
	q.mu.Unlock()
	for _, child := range children {
		child.setAcceptsTasks(accepts)
	}
}

// setNotify installs the queue-change callback. A separate mutex guards it so
// a parent can sever the callback during teardown without deadlocking against
// notifications in flight.
func (q *TaskQueue) setNotify(fn func()) {
	q.notifyMu.Lock()
	q.notify = fn
	q.notifyMu.Unlock()
}

func (q *TaskQueue) notifyChange() {
	q.notifyMu.Lock()
	fn := q.notify
	q.notifyMu.Unlock()
	if fn != nil {
		fn()
	}
}

// releaseSubQueues severs the children's notify callbacks so nobody calls
// back into a queue that is going away.
func (q *TaskQueue) releaseSubQueues() {
	q.mu.Lock()
	children := q.liveSubQueuesLocked()
	q.mu.Unlock()
	for _, child := range children {
		child.setNotify(nil)
	}
}

func (q *TaskQueue) runContext() context.Context {
	if ctx, ok := q.runCtx.Load().(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func (q *TaskQueue) setRunContext(ctx context.Context) {
	q.runCtx.Store(ctx)
}

// executeTask runs one task body with panic containment and bookkeeping.
func (q *TaskQueue) executeTask(ctx context.Context, t *task) {
	started := time.Now()
	panicked := false
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				panicked = true
				q.metrics.RecordTaskPanic(q.name, rec)
				q.panicHandler.HandlePanic(ctx, q.name, rec, debug.Stack())
			}
		}()
		t.execute(ctx)
	}()
	finished := time.Now()
	q.metrics.RecordTaskDuration(q.name, finished.Sub(started))
	q.history.record(TaskExecutionRecord{
		QueueName:  q.name,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
		Panicked:   panicked,
	})
}

// drainLeftovers runs after the servicing loop observes the stop request:
// pending delayed tasks are implicitly cancelled, remaining ready tasks run.
func (q *TaskQueue) drainLeftovers(ctx context.Context) {
	q.mu.Lock()
	delayed := q.delayed
	q.delayed = nil
	q.mu.Unlock()
	for _, d := range delayed {
		d.task.cancel()
	}

	for {
		t := q.acquireNextTask()
		if t == nil {
			return
		}
		q.executeTask(ctx, t)
	}
}

// Stats returns a point-in-time snapshot of the queue's state.
func (q *TaskQueue) Stats() QueueStats {
	q.mu.Lock()
	ready := q.ready.Length()
	delayed := len(q.delayed)
	subs := len(q.subQueues)
	q.mu.Unlock()
	return QueueStats{
		Name:      q.name,
		Ready:     ready,
		Delayed:   delayed,
		SubQueues: subs,
		Accepting: q.AcceptsTasks(),
		Running:   q.isRunning(),
	}
}

// History returns the most recent task execution records, newest first.
func (q *TaskQueue) History() []TaskExecutionRecord {
	return q.history.snapshot()
}

// =============================================================================
// Context helper
// =============================================================================

type taskQueueKeyType struct{}

var taskQueueKey taskQueueKeyType

// GetCurrentQueue returns the queue whose servicing thread is running the
// calling task, or nil outside a task.
func GetCurrentQueue(ctx context.Context) Queue {
	if v := ctx.Value(taskQueueKey); v != nil {
		return v.(Queue)
	}
	return nil
}

func withQueue(ctx context.Context, q Queue) context.Context {
	return context.WithValue(ctx, taskQueueKey, q)
}

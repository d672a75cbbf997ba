package core

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ThreadPriority maps to the OS scheduling class of the worker thread.
// PriorityDefault leaves whatever the runtime chose; PriorityRealTime elevates
// to SCHED_FIFO where the platform and privileges allow it.
type ThreadPriority int

const (
	PriorityDefault ThreadPriority = iota
	PriorityLow
	PriorityHigh
	PriorityRealTime
)

func (p ThreadPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityRealTime:
		return "realtime"
	default:
		return "default"
	}
}

// ThreadProcedure is the body of a Thread. It must observe the stop token to
// exit gracefully; a procedure that ignores it runs until it returns on its own.
type ThreadProcedure func(stop *StopToken)

// Procedure adapts a plain function into a ThreadProcedure for bodies that
// don't care about cooperative stopping.
func Procedure(fn func()) ThreadProcedure {
	return func(*StopToken) {
		fn()
	}
}

// StopToken is the cooperative-cancellation flag passed to a thread procedure.
// IsStopping is the polling form; Done is the select form.
type StopToken struct {
	stopping atomic.Bool
	done     chan struct{}
	once     sync.Once
}

func newStopToken() *StopToken {
	return &StopToken{done: make(chan struct{})}
}

// IsStopping reports whether the thread has been asked to stop.
func (t *StopToken) IsStopping() bool {
	return t.stopping.Load()
}

// Done returns a channel that is closed when the thread is asked to stop.
func (t *StopToken) Done() <-chan struct{} {
	return t.done
}

func (t *StopToken) notifyStop() {
	t.once.Do(func() {
		t.stopping.Store(true)
		close(t.done)
	})
}

// StartToken lets the caller of Thread.Start wait until the procedure has
// actually begun executing on the new thread.
type StartToken struct {
	started atomic.Bool
	done    chan struct{}
}

func newStartToken() *StartToken {
	return &StartToken{done: make(chan struct{})}
}

// IsStarted reports whether the procedure has begun executing.
func (t *StartToken) IsStarted() bool {
	return t.started.Load()
}

// Wait blocks until the procedure has begun executing.
func (t *StartToken) Wait() {
	<-t.done
}

func (t *StartToken) complete() {
	t.started.Store(true)
	close(t.done)
}

// Thread owns one OS thread. The worker goroutine is pinned with
// runtime.LockOSThread so the name and priority stick to a real kernel thread.
// A Thread whose procedure has returned may be started again.
type Thread struct {
	mu        sync.Mutex
	name      string
	priority  ThreadPriority
	procedure ThreadProcedure

	started    atomic.Bool
	id         atomic.Int64
	startToken *StartToken
	stopToken  *StopToken
	joinCh     chan struct{}

	logger Logger
}

// NewThread creates an unstarted thread with the default priority.
func NewThread(name string, procedure ThreadProcedure) *Thread {
	return NewThreadWithPriority(name, PriorityDefault, procedure)
}

// NewThreadWithPriority creates an unstarted thread with an explicit priority.
func NewThreadWithPriority(name string, priority ThreadPriority, procedure ThreadProcedure) *Thread {
	return &Thread{
		name:      name,
		priority:  priority,
		procedure: procedure,
		logger:    NewDefaultLogger(),
	}
}

// SetLogger replaces the thread's logger. Must be called before Start.
func (t *Thread) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Name returns the thread's name.
func (t *Thread) Name() string {
	return t.name
}

// Priority returns the thread's configured priority.
func (t *Thread) Priority() ThreadPriority {
	return t.priority
}

// ID returns the goroutine id of the running procedure, or 0 before the first
// start. The id is stable for the lifetime of one run.
func (t *Thread) ID() int64 {
	return t.id.Load()
}

// IsStarted reports whether the procedure is currently running.
func (t *Thread) IsStarted() bool {
	return t.started.Load()
}

// IsStopping reports whether the current run has been asked to stop.
func (t *Thread) IsStopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopToken != nil && t.stopToken.IsStopping()
}

// Equal reports whether both threads service the same goroutine.
func (t *Thread) Equal(other *Thread) bool {
	if other == nil {
		return false
	}
	return t.ID() != 0 && t.ID() == other.ID()
}

// Start spawns the worker and returns a token that completes once the
// procedure has begun executing. Returns ErrAlreadyStarted on a running thread.
func (t *Thread) Start() (*StartToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	t.startToken = newStartToken()
	t.stopToken = newStopToken()
	t.joinCh = make(chan struct{})

	go t.run(t.procedure, t.startToken, t.stopToken, t.joinCh)
	return t.startToken, nil
}

// Stop asks the current run to finish. Idempotent, non-blocking, tolerated on
// a thread that was never started.
func (t *Thread) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopToken != nil {
		t.stopToken.notifyStop()
	}
}

// Join blocks until the current run has terminated. A no-op on a thread that
// was never started.
func (t *Thread) Join() {
	t.mu.Lock()
	ch := t.joinCh
	t.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

// StopAndJoin is the destructor equivalent: signal stop, wait for exit.
func (t *Thread) StopAndJoin() {
	t.Stop()
	t.Join()
}

func (t *Thread) run(procedure ThreadProcedure, start *StartToken, stop *StopToken, joinCh chan struct{}) {
	// The goroutine stays locked for its whole life so the kernel thread dies
	// with it instead of returning to the scheduler with a modified priority.
	runtime.LockOSThread()

	applyThreadName(t.name, t.logger)
	applyThreadPriority(t.priority, t.logger)

	t.id.Store(goid.Get())
	start.complete()

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.logger.Error("thread procedure panicked",
					F("thread", t.name), F("panic", rec), F("stack", string(debug.Stack())))
			}
		}()
		procedure(stop)
	}()

	t.started.Store(false)
	close(joinCh)
}

// ThisThread adopts the caller's goroutine instead of spawning one. Start runs
// the procedure inline and blocks until it returns; the thread's id equals the
// caller's. Join is a no-op because Start already waited.
type ThisThread struct {
	mu        sync.Mutex
	name      string
	procedure ThreadProcedure

	started   atomic.Bool
	id        atomic.Int64
	stopToken *StopToken

	logger Logger
}

// NewThisThread creates a thread wrapper for the calling goroutine. The
// procedure may be installed later with SetProcedure.
func NewThisThread(name string) *ThisThread {
	return &ThisThread{
		name:   name,
		logger: NewDefaultLogger(),
	}
}

// SetLogger replaces the thread's logger. Must be called before Start.
func (t *ThisThread) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// SetProcedure installs the procedure to run. Returns ErrAlreadyStarted while
// the thread is running.
func (t *ThisThread) SetProcedure(procedure ThreadProcedure) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.Load() {
		return ErrAlreadyStarted
	}
	t.procedure = procedure
	return nil
}

// Name returns the thread's name.
func (t *ThisThread) Name() string {
	return t.name
}

// ID returns the adopted goroutine's id, or the caller's id before Start.
func (t *ThisThread) ID() int64 {
	if id := t.id.Load(); id != 0 {
		return id
	}
	return goid.Get()
}

// IsStarted reports whether the procedure is currently running.
func (t *ThisThread) IsStarted() bool {
	return t.started.Load()
}

// IsStopping reports whether the current run has been asked to stop.
func (t *ThisThread) IsStopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopToken != nil && t.stopToken.IsStopping()
}

// Start runs the installed procedure on the calling goroutine. It blocks the
// caller until the procedure returns.
func (t *ThisThread) Start() (*StartToken, error) {
	t.mu.Lock()
	if !t.started.CompareAndSwap(false, true) {
		t.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	procedure := t.procedure
	stop := newStopToken()
	t.stopToken = stop
	t.mu.Unlock()

	if procedure == nil {
		t.started.Store(false)
		return nil, ErrNotStarted
	}

	start := newStartToken()
	t.id.Store(goid.Get())
	applyThreadName(t.name, t.logger)
	start.complete()

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.logger.Error("thread procedure panicked",
					F("thread", t.name), F("panic", rec), F("stack", string(debug.Stack())))
			}
		}()
		procedure(stop)
	}()

	t.started.Store(false)
	return start, nil
}

// Stop asks the running procedure to finish. Idempotent.
func (t *ThisThread) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopToken != nil {
		t.stopToken.notifyStop()
	}
}

// Join is a no-op: Start already blocks until the procedure returns.
func (t *ThisThread) Join() {}

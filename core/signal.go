package core

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"weak"
)

// SignalCallback is a listener callback. The value is the emitted payload,
// captured by value at emit time; the context is the target queue's run
// context (or the emitter's context on the same-thread fast path).
type SignalCallback[T any] func(ctx context.Context, value T)

// slot binds one listener callback to its target queue. The queue reference
// is weak: a slot must never keep its target queue alive.
type slot[T any] struct {
	id       uint64
	queue    weak.Pointer[TaskQueue]
	callback SignalCallback[T]
}

// Signal is a multicast emitter parameterised by its payload type. Every
// connection pins a callback to a task queue; emission fans out one task per
// connection onto that queue, or invokes the callback inline when the emitter
// is already on the queue's servicing thread.
//
// Zero-argument signals are Signal[struct{}].
type Signal[T any] struct {
	mu     sync.Mutex
	slots  []*slot[T]
	nextID uint64
	logger Logger
}

// NewSignal creates an empty signal.
func NewSignal[T any]() *Signal[T] {
	return NewSignalWithLogger[T](nil)
}

// NewSignalWithLogger creates an empty signal with an explicit logger.
func NewSignalWithLogger[T any](logger Logger) *Signal[T] {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &Signal[T]{logger: logger}
}

// Connect registers a callback pinned to the given queue and returns the
// connection handle that removes it again. The slot holds the queue weakly;
// once the queue is collected the slot is skipped on emit.
func (s *Signal[T]) Connect(q Queue, callback SignalCallback[T]) *Connection[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.slots = append(s.slots, &slot[T]{
		id:       s.nextID,
		queue:    weak.Make(q.base()),
		callback: callback,
	})
	return &Connection[T]{signal: weak.Make(s), id: s.nextID}
}

// DisconnectAll removes every slot.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = nil
}

// ConnectionCount returns the number of live slots.
func (s *Signal[T]) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Emit dispatches value to every slot present at the moment the emit mutex is
// acquired. Slots on the emitter's own thread run inline, before Emit
// returns; all others receive one task on their target queue with the value
// captured at emit time. A failing slot never prevents dispatch to the
// remaining slots.
func (s *Signal[T]) Emit(ctx context.Context, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		q := sl.queue.Value()
		if q == nil {
			s.logger.Debug("signal slot skipped", F("error", ErrHostQueueGone))
			continue
		}
		if q.IsSameThread() {
			s.invokeInline(ctx, sl, value)
			continue
		}
		callback := sl.callback
		if err := q.Send(func(taskCtx context.Context) {
			callback(taskCtx, value)
		}); err != nil {
			s.logger.Debug("signal dispatch failed",
				F("queue", q.Name()), F("error", err))
		}
	}
}

func (s *Signal[T]) invokeInline(ctx context.Context, sl *slot[T], value T) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("signal callback panicked",
				F("panic", rec), F("stack", string(debug.Stack())))
		}
	}()
	sl.callback(ctx, value)
}

func (s *Signal[T]) disconnect(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sl := range s.slots {
		if sl.id == id {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return true
		}
	}
	return false
}

// Connection is the handle returned from Connect. Close disconnects the slot;
// it is idempotent. The handle references the signal weakly, so a connection
// never keeps its signal alive, and closing a connection whose signal is
// already gone is a no-op.
type Connection[T any] struct {
	signal weak.Pointer[Signal[T]]
	id     uint64
	closed atomic.Bool
}

// Close removes the slot from the signal. Safe to call multiple times and
// after the signal has been collected.
func (c *Connection[T]) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	if s := c.signal.Value(); s != nil {
		s.disconnect(c.id)
	}
}

// IsClosed reports whether Close has been called.
func (c *Connection[T]) IsClosed() bool {
	return c != nil && c.closed.Load()
}

package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestSendSync_ReturnsValue verifies the basic blocking send: SendSync returns
// exactly what the callable returned
func TestSendSync_ReturnsValue(t *testing.T) {
	q := newTestQueue("send-sync")
	defer q.Stop()

	got, err := SendSync(context.Background(), q, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("SendSync failed: %v", err)
	}
	if got != 42 {
		t.Errorf("SendSync = %d, want 42", got)
	}
}

// TestSendSync_SameThreadInline verifies re-entrant synchronous sends
// Main test items:
// 1. SendSync from the servicing thread executes inline
// 2. Nested synchronous sends do not deadlock
func TestSendSync_SameThreadInline(t *testing.T) {
	q := newTestQueue("reentrant")
	defer q.Stop()

	got, err := SendSync(context.Background(), q, func(ctx context.Context) (int, error) {
		// Already on the servicing thread: this nested send must run inline.
		inner, err := SendSync(ctx, q, func(ctx context.Context) (int, error) {
			return 41, nil
		})
		return inner + 1, err
	})
	if err != nil {
		t.Fatalf("nested SendSync failed: %v", err)
	}
	if got != 42 {
		t.Errorf("nested SendSync = %d, want 42", got)
	}
}

// TestSendWait_BlocksUntilExecuted verifies SendWait ordering
func TestSendWait_BlocksUntilExecuted(t *testing.T) {
	q := newTestQueue("send-wait")
	defer q.Stop()

	var before atomic.Bool
	_ = q.Send(func(ctx context.Context) {
		time.Sleep(20 * time.Millisecond)
		before.Store(true)
	})
	if err := SendWait(context.Background(), q, func(ctx context.Context) {}); err != nil {
		t.Fatalf("SendWait failed: %v", err)
	}
	if !before.Load() {
		t.Error("SendWait returned before earlier tasks completed")
	}
}

// TestSendSync_NotRunning verifies the deadlock guard on a queue whose
// servicing thread has not started
func TestSendSync_NotRunning(t *testing.T) {
	tt := NewThisThread("not-running")
	tt.SetLogger(NewNoOpLogger())
	q := NewSerialTaskQueueOnThreadWithConfig(tt, &QueueConfig{Logger: NewNoOpLogger()})

	if _, err := SendSync(context.Background(), q, func(ctx context.Context) (int, error) {
		return 0, nil
	}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SendSync before start = %v, want ErrNotRunning", err)
	}

	// Plain sends are accepted before the loop starts.
	if err := q.Send(func(ctx context.Context) {}); err != nil {
		t.Errorf("Send before start failed: %v", err)
	}
}

// TestSerialTaskQueueOnThread_MainLoop verifies the adopted-thread mode
// Main test items:
// 1. Start blocks the caller and drains tasks sent beforehand
// 2. A delayed task can stop the loop; Start returns after the deadline
// 3. No queued task is lost
func TestSerialTaskQueueOnThread_MainLoop(t *testing.T) {
	tt := NewThisThread("main-loop")
	tt.SetLogger(NewNoOpLogger())
	q := NewSerialTaskQueueOnThreadWithConfig(tt, &QueueConfig{Logger: NewNoOpLogger()})

	var ran atomic.Int64
	_ = q.Send(func(ctx context.Context) { ran.Add(1) })
	_, _ = q.SendDelayed(func(ctx context.Context) {
		ran.Add(1)
		tt.Stop()
	}, 200*time.Millisecond)

	start := time.Now()
	if _, err := tt.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 180*time.Millisecond {
		t.Errorf("Start returned after %v, before the 200ms delayed stop", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("Start took %v, expected to return shortly after the delayed stop", elapsed)
	}
	if got := ran.Load(); got != 2 {
		t.Errorf("%d tasks ran, want 2", got)
	}
}

// TestSerialTaskQueue_StopDrainsLeftovers verifies shutdown semantics
// Main test items:
// 1. Ready tasks still execute during shutdown
// 2. Delayed tasks whose deadlines have not arrived are implicitly cancelled
// 3. Their promises are broken
func TestSerialTaskQueue_StopDrainsLeftovers(t *testing.T) {
	q := newTestQueue("drain")

	// Park the loop so everything below stays queued until Stop.
	gate := make(chan struct{})
	_ = q.Send(func(ctx context.Context) { <-gate })

	var ready atomic.Int64
	_ = q.Send(func(ctx context.Context) { ready.Add(1) })
	_ = q.Send(func(ctx context.Context) { ready.Add(1) })

	delayedHandle, err := SendDelayedAsync(q, func(ctx context.Context) (int, error) {
		return 1, nil
	}, time.Hour)
	if err != nil {
		t.Fatalf("SendDelayedAsync failed: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
	}()
	q.Stop()

	if got := ready.Load(); got != 2 {
		t.Errorf("%d ready tasks ran during shutdown, want 2", got)
	}
	if _, err := delayedHandle.Get(context.Background()); !errors.Is(err, ErrBrokenPromise) {
		t.Errorf("pending delayed task should break its promise, got %v", err)
	}
	if !delayedHandle.IsCancelled() {
		t.Error("pending delayed task should be cancelled by shutdown")
	}
}

// TestSerialTaskQueue_StopIdempotent verifies Stop can be called repeatedly
func TestSerialTaskQueue_StopIdempotent(t *testing.T) {
	q := newTestQueue("stop-twice")
	q.Stop()
	q.Stop()
}

// TestSerialTaskQueue_StopFromOwnTask verifies a task may stop its own queue
func TestSerialTaskQueue_StopFromOwnTask(t *testing.T) {
	q := newTestQueue("self-stop")

	done := make(chan struct{})
	_ = q.Send(func(ctx context.Context) {
		q.Stop()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("self-stopping task deadlocked")
	}
	q.Thread().Join()
	if q.AcceptsTasks() {
		t.Error("queue should not accept tasks after Stop")
	}
}

// TestSendDelayedAsync_Result verifies the delayed future variant
func TestSendDelayedAsync_Result(t *testing.T) {
	q := newTestQueue("delayed-async")
	defer q.Stop()

	handle, err := SendDelayedAsync(q, func(ctx context.Context) (string, error) {
		return "late but worth it", nil
	}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("SendDelayedAsync failed: %v", err)
	}
	got, err := handle.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "late but worth it" {
		t.Errorf("unexpected result %q", got)
	}
	if !handle.IsExecuted() {
		t.Error("handle should report executed")
	}
}

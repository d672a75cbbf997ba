package core

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// TestTask_ExecuteOnce verifies the at-most-once state machine
// Main test items:
// 1. A task executes exactly once even when executed repeatedly
// 2. A cancelled task never executes
// 3. Cancelling an executed task is a no-op
func TestTask_ExecuteOnce(t *testing.T) {
	count := 0
	tk := newTask(func(ctx context.Context) { count++ })

	if !tk.execute(context.Background()) {
		t.Fatal("first execute should run the body")
	}
	if tk.execute(context.Background()) {
		t.Error("second execute must be a no-op")
	}
	if count != 1 {
		t.Errorf("body ran %d times, want 1", count)
	}

	cancelled := newTask(func(ctx context.Context) { count++ })
	cancelled.cancel()
	if cancelled.execute(context.Background()) {
		t.Error("cancelled task must not execute")
	}
	if count != 1 {
		t.Errorf("cancelled body ran, count=%d", count)
	}

	// Cancel after execute is a no-op; state stays Executed.
	tk.cancel()
	if tk.state.Load() != taskExecuted {
		t.Error("cancel after execute must not change state")
	}
}

// TestTask_CancelExecuteRace verifies the CAS race between cancel and execute
// Main test items:
// 1. Under concurrent cancel/execute exactly one of them wins
// 2. The loser is always a no-op
func TestTask_CancelExecuteRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		ran := 0
		tk := newTask(func(ctx context.Context) { ran++ })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			tk.execute(context.Background())
		}()
		go func() {
			defer wg.Done()
			tk.cancel()
		}()
		wg.Wait()

		state := tk.state.Load()
		if state == taskExecuted && ran != 1 {
			t.Fatalf("iteration %d: executed state but body ran %d times", i, ran)
		}
		if state == taskCancelled && ran != 0 {
			t.Fatalf("iteration %d: cancelled state but body ran", i)
		}
		if state != taskExecuted && state != taskCancelled {
			t.Fatalf("iteration %d: unexpected terminal state %d", i, state)
		}
	}
}

// TestTaskHandle_States verifies the handle's view of the state machine
func TestTaskHandle_States(t *testing.T) {
	tk := newTask(func(ctx context.Context) {})
	h := &TaskHandle{task: tk}

	if h.IsExecuted() || h.IsCancelled() {
		t.Error("fresh handle should be neither executed nor cancelled")
	}
	h.Cancel()
	if !h.IsCancelled() {
		t.Error("handle should report cancelled")
	}
	if h.IsExecuted() {
		t.Error("cancelled handle must not report executed")
	}

	var nilHandle *TaskHandle
	nilHandle.Cancel() // must not panic
}

// TestFuture_BrokenPromise verifies cancellation completes the future with
// ErrBrokenPromise
func TestFuture_BrokenPromise(t *testing.T) {
	q := NewSerialTaskQueue("broken-promise")
	defer q.Stop()

	block := make(chan struct{})
	_ = q.Send(func(ctx context.Context) { <-block })

	handle, err := SendAsync(q, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("SendAsync failed: %v", err)
	}
	handle.Cancel()
	close(block)

	if _, err := handle.Get(context.Background()); !errors.Is(err, ErrBrokenPromise) {
		t.Errorf("expected ErrBrokenPromise, got %v", err)
	}
}

// TestSendAsync_PanicCaptured verifies a panic in the callable is captured
// into the future instead of escaping
func TestSendAsync_PanicCaptured(t *testing.T) {
	q := NewSerialTaskQueueWithConfig("panic-future", &QueueConfig{Logger: NewNoOpLogger()})
	defer q.Stop()

	handle, err := SendAsync(q, func(ctx context.Context) (string, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatalf("SendAsync failed: %v", err)
	}

	_, err = handle.Get(context.Background())
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if pe.Value != "kaboom" {
		t.Errorf("unexpected panic value: %v", pe.Value)
	}
}

// TestSendAsync_ErrorPropagated verifies the callable's error reaches Get
func TestSendAsync_ErrorPropagated(t *testing.T) {
	q := NewSerialTaskQueue("error-future")
	defer q.Stop()

	sentinel := errors.New("nope")
	handle, err := SendAsync(q, func(ctx context.Context) (int, error) {
		return 0, sentinel
	})
	if err != nil {
		t.Fatalf("SendAsync failed: %v", err)
	}
	if _, err := handle.Get(context.Background()); !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error, got %v", err)
	}
}

// TestFuture_GetWithContext verifies Get honours caller-side timeouts
func TestFuture_GetWithContext(t *testing.T) {
	fut := newFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fut.get(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	fut.complete(5, nil)
	v, err := fut.get(context.Background())
	if err != nil || v != 5 {
		t.Errorf("expected (5, nil), got (%d, %v)", v, err)
	}
}

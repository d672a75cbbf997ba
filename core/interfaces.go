package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a plain task panics during execution. Panics
// never cross the queue boundary; panics in promise-bearing tasks are captured
// into the task's future as a PanicError instead and do not reach the handler.
//
// Implementations must be thread-safe.
type PanicHandler interface {
	// HandlePanic is called with the panicked task's context, the name of the
	// queue it ran on, the recovered panic value and the stack trace.
	HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler prints panic information to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Queue %s] Panic: %v\nStack trace:\n%s", queueName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics collects task execution metrics. Implementations can forward to
// monitoring systems (Prometheus, StatsD, etc.). Methods must be non-blocking
// and fast to avoid impacting task execution.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(queueName string, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(queueName string, panicInfo any)

	// RecordQueueDepth records the current ready-queue depth.
	RecordQueueDepth(queueName string, depth int)

	// RecordTaskRejected records that a send was rejected (e.g. during shutdown).
	RecordTaskRejected(queueName string, reason string)
}

// NilMetrics is the no-op default when no metrics implementation is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(queueName string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(queueName string, panicInfo any)             {}
func (m *NilMetrics) RecordQueueDepth(queueName string, depth int)                {}
func (m *NilMetrics) RecordTaskRejected(queueName string, reason string)          {}

// =============================================================================
// QueueConfig: Configuration for task queues
// =============================================================================

// QueueConfig holds optional collaborators for a queue. Nil fields fall back
// to defaults.
type QueueConfig struct {
	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics records task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// Logger receives queue lifecycle and rejection logs. Defaults to DefaultLogger.
	Logger Logger

	// ThreadPriority applies to the servicing thread(s) the queue owns.
	ThreadPriority ThreadPriority
}

// DefaultQueueConfig returns a config with default collaborators.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		PanicHandler: &DefaultPanicHandler{},
		Metrics:      &NilMetrics{},
		Logger:       NewDefaultLogger(),
	}
}

func (c *QueueConfig) withDefaults() *QueueConfig {
	out := DefaultQueueConfig()
	if c == nil {
		return out
	}
	if c.PanicHandler != nil {
		out.PanicHandler = c.PanicHandler
	}
	if c.Metrics != nil {
		out.Metrics = c.Metrics
	}
	if c.Logger != nil {
		out.Logger = c.Logger
	}
	out.ThreadPriority = c.ThreadPriority
	return out
}

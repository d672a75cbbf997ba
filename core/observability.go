package core

import "time"

// TaskExecutionRecord captures one completed task execution.
type TaskExecutionRecord struct {
	QueueName  string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

// QueueStats is a point-in-time snapshot of a task queue.
type QueueStats struct {
	Name      string
	Ready     int
	Delayed   int
	SubQueues int
	Accepting bool
	Running   bool
}

// PoolStats is a point-in-time snapshot of a thread pool.
type PoolStats struct {
	Name    string
	Workers int
	Started bool
}

// StatsSource is anything that can report queue stats; the prometheus
// snapshot poller consumes it.
type StatsSource interface {
	Stats() QueueStats
}

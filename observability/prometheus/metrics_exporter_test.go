package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalcraft/go-threads/core"
)

// TestMetricsExporter_Records verifies the core.Metrics adaptation
// Main test items:
// 1. Durations, panics, rejections and depth land in the right collectors
// 2. Empty labels are normalized
func TestMetricsExporter_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	exporter, err := NewMetricsExporter("test", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTaskDuration("q1", 25*time.Millisecond)
	exporter.RecordTaskPanic("q1", "boom")
	exporter.RecordTaskRejected("q1", "not accepting")
	exporter.RecordQueueDepth("", 3)

	if got := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("q1")); got != 1 {
		t.Errorf("panic counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("q1", "not accepting")); got != 1 {
		t.Errorf("rejected counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("unknown")); got != 3 {
		t.Errorf("depth gauge = %v, want 3 under the normalized label", got)
	}
	if n := testutil.CollectAndCount(exporter.taskDurationSeconds); n == 0 {
		t.Error("duration histogram recorded nothing")
	}
}

// TestMetricsExporter_DoubleRegister verifies re-registration reuses the
// existing collectors instead of failing
func TestMetricsExporter_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetricsExporter("dup", reg, ExporterOptions{}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := NewMetricsExporter("dup", reg, ExporterOptions{}); err != nil {
		t.Fatalf("second registration failed: %v", err)
	}
}

// TestMetricsExporter_WiredIntoQueue verifies metrics flow from a live queue
func TestMetricsExporter_WiredIntoQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	exporter, err := NewMetricsExporter("wired", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	q := core.NewSerialTaskQueueWithConfig("wired-queue", &core.QueueConfig{
		Metrics: exporter,
		Logger:  core.NewNoOpLogger(),
	})
	if err := core.SendWait(context.Background(), q, func(ctx context.Context) {}); err != nil {
		t.Fatalf("SendWait failed: %v", err)
	}
	q.Stop()

	if err := q.Send(func(ctx context.Context) {}); err == nil {
		t.Fatal("send after stop should be rejected")
	}
	if got := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("wired-queue", "not accepting")); got != 1 {
		t.Errorf("rejected counter = %v, want 1", got)
	}
}

// TestSnapshotPoller_Collects verifies the poller publishes queue gauges
func TestSnapshotPoller_Collects(t *testing.T) {
	reg := prometheus.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	q := core.NewSerialTaskQueueWithConfig("observed", &core.QueueConfig{Logger: core.NewNoOpLogger()})
	defer q.Stop()
	poller.AddQueue("observed", q)

	poller.Start()
	defer poller.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(poller.queueAccepting.WithLabelValues("observed")) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("poller never published the accepting gauge")
}

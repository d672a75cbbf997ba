package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalcraft/go-threads/core"
)

// SnapshotPoller periodically exports queue and pool Stats() snapshots into
// Prometheus gauges. The polling itself runs as a self-rescheduling delayed
// task on a dedicated SerialTaskQueue.
type SnapshotPoller struct {
	interval time.Duration

	sourcesMu sync.RWMutex
	queues    map[string]core.StatsSource
	pools     map[string]*core.ThreadPool

	queueReady     *prometheus.GaugeVec
	queueDelayed   *prometheus.GaugeVec
	queueAccepting *prometheus.GaugeVec
	poolWorkers    *prometheus.GaugeVec
	poolStarted    *prometheus.GaugeVec

	stateMu sync.Mutex
	poll    *core.SerialTaskQueue
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prometheus.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	queueReady := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "threads",
		Name:      "queue_ready",
		Help:      "Ready tasks per queue.",
	}, []string{"queue"})
	queueDelayed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "threads",
		Name:      "queue_delayed",
		Help:      "Delayed tasks per queue.",
	}, []string{"queue"})
	queueAccepting := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "threads",
		Name:      "queue_accepting",
		Help:      "Queue accepting state (1=accepting, 0=shutting down).",
	}, []string{"queue"})
	poolWorkers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "threads",
		Name:      "pool_workers",
		Help:      "Worker count per pool.",
	}, []string{"pool"})
	poolStarted := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "threads",
		Name:      "pool_started",
		Help:      "Pool started state (1=started, 0=stopped).",
	}, []string{"pool"})

	var err error
	if queueReady, err = registerCollector(reg, queueReady); err != nil {
		return nil, err
	}
	if queueDelayed, err = registerCollector(reg, queueDelayed); err != nil {
		return nil, err
	}
	if queueAccepting, err = registerCollector(reg, queueAccepting); err != nil {
		return nil, err
	}
	if poolWorkers, err = registerCollector(reg, poolWorkers); err != nil {
		return nil, err
	}
	if poolStarted, err = registerCollector(reg, poolStarted); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		queues:         make(map[string]core.StatsSource),
		pools:          make(map[string]*core.ThreadPool),
		queueReady:     queueReady,
		queueDelayed:   queueDelayed,
		queueAccepting: queueAccepting,
		poolWorkers:    poolWorkers,
		poolStarted:    poolStarted,
	}, nil
}

// AddQueue adds or replaces a queue stats source by name.
func (p *SnapshotPoller) AddQueue(name string, source core.StatsSource) {
	if p == nil || source == nil {
		return
	}
	p.sourcesMu.Lock()
	p.queues[normalizeLabel(name, "queue")] = source
	p.sourcesMu.Unlock()
}

// AddPool adds or replaces a pool by name.
func (p *SnapshotPoller) AddPool(name string, pool *core.ThreadPool) {
	if p == nil || pool == nil {
		return
	}
	p.sourcesMu.Lock()
	p.pools[normalizeLabel(name, "pool")] = pool
	p.sourcesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start() {
	if p == nil {
		return
	}
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.poll != nil {
		return
	}
	p.poll = core.NewSerialTaskQueueWithConfig("snapshot-poller", &core.QueueConfig{
		Logger: core.NewNoOpLogger(),
	})
	_ = p.poll.Send(p.pollTask)
}

// pollTask collects once and reschedules itself until the queue stops
// accepting tasks.
func (p *SnapshotPoller) pollTask(ctx context.Context) {
	p.collectOnce()
	if q := core.GetCurrentQueue(ctx); q != nil && q.AcceptsTasks() {
		_, _ = q.SendDelayed(p.pollTask, p.interval)
	}
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}
	p.stateMu.Lock()
	poll := p.poll
	p.poll = nil
	p.stateMu.Unlock()
	if poll != nil {
		poll.Stop()
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.sourcesMu.RLock()
	defer p.sourcesMu.RUnlock()

	for name, source := range p.queues {
		stats := source.Stats()
		p.queueReady.WithLabelValues(name).Set(float64(stats.Ready))
		p.queueDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		if stats.Accepting {
			p.queueAccepting.WithLabelValues(name).Set(1)
		} else {
			p.queueAccepting.WithLabelValues(name).Set(0)
		}
	}
	for name, pool := range p.pools {
		stats := pool.Stats()
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		if stats.Started {
			p.poolStarted.WithLabelValues(name).Set(1)
		} else {
			p.poolStarted.WithLabelValues(name).Set(0)
		}
	}
}

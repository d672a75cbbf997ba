package core

import (
	"fmt"
	"sync"
)

// ThreadPool is a fixed-size bag of Threads all running the same procedure.
// Workers are named "<name>-<index>".
type ThreadPool struct {
	mu        sync.Mutex
	name      string
	priority  ThreadPriority
	procedure ThreadProcedure
	threads   []*Thread
	started   bool
	logger    Logger
}

// NewThreadPool creates a stopped pool of size workers.
func NewThreadPool(name string, size int, priority ThreadPriority, procedure ThreadProcedure) *ThreadPool {
	p := &ThreadPool{
		name:      name,
		priority:  priority,
		procedure: procedure,
		logger:    NewDefaultLogger(),
	}
	for i := 0; i < size; i++ {
		p.threads = append(p.threads, p.newWorker(i))
	}
	return p
}

func (p *ThreadPool) newWorker(index int) *Thread {
	t := NewThreadWithPriority(fmt.Sprintf("%s-%d", p.name, index), p.priority, p.procedure)
	t.SetLogger(p.logger)
	return t
}

// SetLogger replaces the pool's logger. Must be called before Start.
func (p *ThreadPool) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
	for _, t := range p.threads {
		t.SetLogger(logger)
	}
}

// Name returns the pool's name.
func (p *ThreadPool) Name() string {
	return p.name
}

// Size returns the number of workers.
func (p *ThreadPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// IsStarted reports whether the pool is running.
func (p *ThreadPool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Start starts every worker and waits until each procedure has begun, so the
// worker ids are observable immediately after Start returns.
func (p *ThreadPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	tokens := make([]*StartToken, 0, len(p.threads))
	for _, t := range p.threads {
		token, err := t.Start()
		if err != nil {
			return err
		}
		tokens = append(tokens, token)
	}
	for _, token := range tokens {
		token.Wait()
	}
	p.started = true
	return nil
}

// Stop signals stop on every worker. Idempotent, tolerated on a pool that was
// never started.
func (p *ThreadPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.threads {
		t.Stop()
	}
	p.started = false
}

// Join waits for every worker to terminate.
func (p *ThreadPool) Join() {
	p.mu.Lock()
	threads := make([]*Thread, len(p.threads))
	copy(threads, p.threads)
	p.mu.Unlock()
	for _, t := range threads {
		t.Join()
	}
}

// Resize adjusts the worker count in place: fresh threads are appended or the
// tail is truncated. Legal only while the pool is stopped.
func (p *ThreadPool) Resize(size int) error {
	if size < 0 {
		size = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	for len(p.threads) < size {
		p.threads = append(p.threads, p.newWorker(len(p.threads)))
	}
	if len(p.threads) > size {
		p.threads = p.threads[:size]
	}
	return nil
}

// ContainsThreadID reports whether id belongs to one of the workers. O(N);
// used by ParallelTaskQueue to detect same-thread dispatch.
func (p *ThreadPool) ContainsThreadID(id int64) bool {
	if id == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.threads {
		if t.ID() == id {
			return true
		}
	}
	return false
}

// Stats returns a point-in-time snapshot of the pool.
func (p *ThreadPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Name: p.name, Workers: len(p.threads), Started: p.started}
}

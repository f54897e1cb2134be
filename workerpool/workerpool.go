// Package workerpool implements the Worker Pool: a fixed set of long-lived
// workers that claim jobs from the durable queue and hand them to an
// injected processor function, with per-job cancellation and graceful
// shutdown.
package workerpool

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shreyasdbz/axis/core"
)

// Claimer is the minimal surface the pool needs from the Job Queue: claim
// the next pending job, or return nil if none is ready.
type Claimer interface {
	Claim(ctx context.Context, workerID string) (*core.Job, error)
}

// Processor handles one claimed job to completion. The pool knows nothing
// about planning, validation, or execution — those concerns live entirely
// inside the injected Processor.
type Processor func(ctx context.Context, job *core.Job) error

// Pool is the Worker Pool.
type Pool struct {
	size         int
	pollInterval time.Duration
	shutdownWait time.Duration
	logger       core.Logger

	claimer   Claimer
	processor Processor

	pausedForBackpressure atomic.Bool

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	wg        sync.WaitGroup
	heartbeat atomic.Int64

	stopCh chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

func WithSize(n int) Option                    { return func(p *Pool) { p.size = n } }
func WithPollInterval(d time.Duration) Option  { return func(p *Pool) { p.pollInterval = d } }
func WithShutdownWait(d time.Duration) Option  { return func(p *Pool) { p.shutdownWait = d } }
func WithLogger(l core.Logger) Option          { return func(p *Pool) { p.logger = l } }

// New builds a Pool of size workers over claimer, invoking processor for
// each claimed job.
func New(claimer Claimer, processor Processor, opts ...Option) *Pool {
	p := &Pool{
		size:         4,
		pollInterval: 250 * time.Millisecond,
		shutdownWait: 10 * time.Second,
		logger:       &core.NoOpLogger{},
		claimer:      claimer,
		processor:    processor,
		cancels:      make(map[string]context.CancelFunc),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pause stops the pool from claiming new jobs until Resume is called.
// In-flight jobs continue to completion.
func (p *Pool) Pause()  { p.pausedForBackpressure.Store(true) }
func (p *Pool) Resume() { p.pausedForBackpressure.Store(false) }

// Start launches p.size worker goroutines against ctx. Start returns
// immediately; workers run until ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, workerID(i))
	}
}

func workerID(i int) string {
	return "worker-" + strconv.Itoa(i)
}

func (p *Pool) worker(ctx context.Context, id string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.heartbeat.Store(time.Now().UnixNano())
			if p.pausedForBackpressure.Load() {
				continue
			}
			job, err := p.claimer.Claim(ctx, id)
			if err != nil {
				p.logger.Error("claim failed", map[string]interface{}{"workerId": id, "error": err.Error()})
				continue
			}
			if job == nil {
				continue
			}
			p.runJob(ctx, id, job)
		}
	}
}

func (p *Pool) runJob(ctx context.Context, workerID string, job *core.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels[job.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, job.ID)
		p.mu.Unlock()
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panic recovered", map[string]interface{}{"workerId": workerID, "jobId": job.ID, "panic": r})
		}
	}()

	if err := p.processor(jobCtx, job); err != nil {
		p.logger.Warn("job processing returned error", map[string]interface{}{"jobId": job.ID, "error": err.Error()})
	}
}

// CancelJob cancels the per-job token for jobID, if currently in-flight on
// this pool.
func (p *Pool) CancelJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.cancels[jobID]; ok {
		cancel()
	}
}

// Stop signals every worker to stop claiming new work, cancels all in-flight
// jobs if they have not settled within the configured shutdown wait, and
// blocks until every worker goroutine has returned.
func (p *Pool) Stop() {
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(p.shutdownWait):
		p.mu.Lock()
		for _, cancel := range p.cancels {
			cancel()
		}
		p.mu.Unlock()
		<-done
	}
}

// Heartbeat returns the UnixNano timestamp of the most recent poll tick
// across all workers, reported as WorkerHeartbeat in the lifecycle
// manager's readiness report.
func (p *Pool) Heartbeat() int64 { return p.heartbeat.Load() }

// Package lifecycle implements the Lifecycle Manager: the ordered startup
// sequence that wires the store, router, job queue, worker pool, and the
// rest of the substrate together, exposes liveness/readiness diagnostics
// while running, and tears everything down in reverse on shutdown.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/jobqueue"
	"github.com/shreyasdbz/axis/registry"
	"github.com/shreyasdbz/axis/resilience"
	"github.com/shreyasdbz/axis/retention"
	"github.com/shreyasdbz/axis/router"
	"github.com/shreyasdbz/axis/store"
	"github.com/shreyasdbz/axis/workerpool"
)

// Status is the Manager's coarse running state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusStarting   Status = "starting"
	StatusReady      Status = "ready"
	StatusDegraded   Status = "degraded"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
)

// Manager owns the substrate's component graph and its start/stop ordering.
// Components are constructed by the caller (main, or a test harness) and
// handed in already wired to each other; the Manager's job is sequencing
// their startup side effects (crash recovery, worker pool start, backup
// scheduling) and reversing that sequence on shutdown.
type Manager struct {
	Store      *store.Store
	Router     *router.Router
	Registry   *registry.Registry
	Queue      *jobqueue.Queue
	Pool       *workerpool.Pool
	Breakers   *resilience.Manager
	Retention  *retention.Sweeper
	Backup     *retention.Backuper
	Telemetry  core.Telemetry

	logger core.Logger

	retentionInterval time.Duration
	backupInterval    time.Duration

	mu       sync.RWMutex
	status   Status
	startErr error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l core.Logger) Option                   { return func(m *Manager) { m.logger = l } }
func WithRetentionInterval(d time.Duration) Option      { return func(m *Manager) { m.retentionInterval = d } }
func WithBackupInterval(d time.Duration) Option         { return func(m *Manager) { m.backupInterval = d } }

// New builds a Manager in StatusNotStarted.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:            &core.NoOpLogger{},
		retentionInterval: 24 * time.Hour,
		backupInterval:    6 * time.Hour,
		status:            StatusNotStarted,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the ordered startup sequence: recover crashed jobs, start the
// worker pool, and launch the background retention/backup schedulers. It
// returns once the substrate is ready to accept work; the schedulers keep
// running in the background until Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusNotStarted && m.status != StatusStopped {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: already %s", m.status)
	}
	m.status = StatusStarting
	m.mu.Unlock()

	if m.Queue != nil {
		n, err := m.Queue.RecoverCrashed(ctx)
		if err != nil {
			m.fail(err)
			return fmt.Errorf("recover crashed jobs: %w", err)
		}
		m.logger.Info("recovered crashed jobs", map[string]interface{}{"count": n})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.Pool != nil {
		m.Pool.Start(runCtx)
	}

	if m.Retention != nil {
		m.wg.Add(1)
		go m.runPeriodic(runCtx, m.retentionInterval, "retention", func(ctx context.Context, now time.Time) error {
			_, err := m.Retention.Run(ctx, now)
			return err
		})
	}

	if m.Backup != nil {
		m.wg.Add(1)
		go m.runPeriodic(runCtx, m.backupInterval, "backup", func(ctx context.Context, now time.Time) error {
			return m.Backup.Snapshot(ctx, now)
		})
	}

	m.mu.Lock()
	m.status = StatusReady
	m.mu.Unlock()
	m.logger.Info("lifecycle manager ready", nil)
	return nil
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.status = StatusDegraded
	m.startErr = err
	m.mu.Unlock()
}

// runPeriodic invokes fn every interval until ctx is cancelled, logging
// (not panicking on) each failure so one bad cycle doesn't kill the
// scheduler. Each cycle runs inside its own span when telemetry is
// configured.
func (m *Manager) runPeriodic(ctx context.Context, interval time.Duration, name string, fn func(context.Context, time.Time) error) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			cycleCtx := ctx
			var span core.Span
			if m.Telemetry != nil {
				cycleCtx, span = m.Telemetry.StartSpan(ctx, "lifecycle."+name)
			}
			err := fn(cycleCtx, t.UTC())
			if span != nil {
				if err != nil {
					span.RecordError(err)
				}
				span.End()
			}
			if err != nil {
				m.logger.Error(name+" cycle failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Stop reverses startup order: stop accepting new scheduler cycles, drain
// the worker pool (graceful then force-cancel per its own timeout), and
// close the store last so in-flight transactions have a chance to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusReady && m.status != StatusDegraded {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: not running (%s)", m.status)
	}
	m.status = StatusStopping
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	var firstErr error
	if m.Pool != nil {
		m.Pool.Stop()
	}
	if m.Store != nil {
		if err := m.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.mu.Lock()
	m.status = StatusStopped
	m.mu.Unlock()
	return firstErr
}

// Readiness is the snapshot returned by ReadinessReport.
type Readiness struct {
	Status          Status
	RegisteredGears int
	WorkerHeartbeat int64
	LastError       string
}

// ReadinessReport summarizes current health for an operator diagnostics
// surface (the httpapi's /readyz handler, or a CLI status command).
func (m *Manager) ReadinessReport() Readiness {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := Readiness{Status: m.status}
	if m.startErr != nil {
		r.LastError = m.startErr.Error()
	}
	if m.Registry != nil {
		r.RegisteredGears = len(m.Registry.ByKind("gear"))
	}
	if m.Pool != nil {
		r.WorkerHeartbeat = m.Pool.Heartbeat()
	}
	return r
}

// Live reports whether the manager has completed startup and not yet begun
// shutdown — the liveness half of liveness/readiness, looser than Ready.
func (m *Manager) Live() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status == StatusReady || m.status == StatusDegraded
}

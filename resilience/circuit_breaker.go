// Package resilience implements the Circuit Breaker: a per-plugin failure
// window that the DAG Executor consults before invoking a gear. Each plugin
// gets its own breaker, opened after a run of consecutive failures and
// probed back to closed after a cooldown, backed by sony/gobreaker's state
// machine instead of reimplementing failure counting and state transitions.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/dag"
)

// Config tunes the per-plugin breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips a
	// plugin's breaker open.
	FailureThreshold uint32
	// OpenTimeout is how long a breaker stays open before allowing a single
	// half-open probe request through.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probe requests while half-open.
	HalfOpenMaxCalls uint32
}

// DefaultConfig is a per-plugin failure window with a conservative trip
// threshold suited to local-first, single-user operation.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Manager owns one gobreaker.CircuitBreaker per gear id, created lazily on
// first use so a plugin catalog never needs to be registered up front.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	config   Config
	logger   core.Logger
}

// NewManager builds a Manager. A nil logger defaults to NoOpLogger.
func NewManager(config Config, logger core.Logger) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

func (m *Manager) breakerFor(gear string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[gear]; ok {
		return b
	}
	logger := m.logger
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        gear,
		MaxRequests: m.config.HalfOpenMaxCalls,
		Timeout:     m.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]interface{}{
				"gear": name, "from": from.String(), "to": to.String(),
			})
		},
	})
	m.breakers[gear] = b
	return b
}

// Predicate returns a dag.CircuitPredicate backed by this manager: it
// reports true while gear's breaker is open, causing the DAG Executor to
// skip the step (and its transitive dependents) with reason CircuitOpen
// instead of invoking it.
func (m *Manager) Predicate() dag.CircuitPredicate {
	return func(gear string) bool {
		return m.breakerFor(gear).State() == gobreaker.StateOpen
	}
}

// Wrap adapts a step executor so a failed invocation counts toward gear's
// consecutive-failure window and a successful one resets it, without the
// DAG Executor needing any knowledge that a breaker exists. An open breaker
// rejects the call with gobreaker.ErrOpenState, which is surfaced as the
// step's failure — the Predicate check upstream in the executor normally
// prevents this path from being reached at all, so it serves as a second
// line of defense against a race between the predicate check and dispatch.
func (m *Manager) Wrap(gear string, exec dag.StepExecutor) dag.StepExecutor {
	return func(ctx context.Context, step core.PlanStep) (map[string]interface{}, error) {
		b := m.breakerFor(gear)
		result, err := b.Execute(func() (interface{}, error) {
			return exec(ctx, step)
		})
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		return result.(map[string]interface{}), nil
	}
}

// State reports gear's current breaker state as a string ("closed",
// "half-open" or "open"), for diagnostics.
func (m *Manager) State(gear string) string {
	return m.breakerFor(gear).State().String()
}

// Reset forces gear's breaker back to closed, discarding its failure
// window. Used by operator tooling after a known-transient outage clears.
func (m *Manager) Reset(gear string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, gear)
}

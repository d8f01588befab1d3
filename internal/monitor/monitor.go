// Package monitor provides background liveness monitoring for the supervised node.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/firefly-engineering/devproxy/internal/audit"
	"github.com/firefly-engineering/devproxy/internal/logging"
	"github.com/firefly-engineering/devproxy/internal/node"
)

// Target is what the monitor checks; *node.Supervisor satisfies it.
type Target interface {
	Check(ctx context.Context) node.State
	Status() node.Snapshot
}

// CheckResult holds the result of a single liveness check.
type CheckResult struct {
	State    node.State
	Previous node.State
	Changed  bool
}

// Monitor periodically runs the node liveness check. It never restarts a
// crashed node; it records that it happened.
type Monitor struct {
	interval time.Duration
	target   Target
	auditLog *audit.Logger

	mu   sync.Mutex
	last node.State
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithAuditLogger sets the audit logger for recording state changes.
func WithAuditLogger(logger *audit.Logger) Option {
	return func(m *Monitor) {
		m.auditLog = logger
	}
}

// New creates a new Monitor.
func New(interval time.Duration, target Target, opts ...Option) *Monitor {
	m := &Monitor{
		interval: interval,
		target:   target,
		last:     node.StateStopped,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the monitoring loop. It blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	logging.Debug("starting node monitor", "interval", m.interval)

	// Run an immediate check, then loop on interval.
	m.checkOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Debug("node monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.checkOnce(ctx)
		}
	}
}

// checkOnce checks the node and records state transitions.
func (m *Monitor) checkOnce(ctx context.Context) CheckResult {
	state := m.target.Check(ctx)

	m.mu.Lock()
	prev := m.last
	m.last = state
	m.mu.Unlock()

	result := CheckResult{State: state, Previous: prev, Changed: state != prev}
	if !result.Changed {
		return result
	}

	logging.Debug("node state changed", "from", prev, "to", state)

	if state == node.StateCrashed {
		snap := m.target.Status()
		logging.UserWarning("Node crashed: %s", snap.LastError)
		m.record(audit.EventCrash, snap.LastError)
		return result
	}
	m.record(audit.EventHealth, string(state))
	return result
}

func (m *Monitor) record(t audit.EventType, details string) {
	if err := m.auditLog.LogEvent(t, audit.ComponentNode, details); err != nil {
		logging.Warn("failed to record audit event", "type", t, "component", audit.ComponentNode, "error", err)
	}
}

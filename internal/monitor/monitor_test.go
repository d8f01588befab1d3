package monitor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firefly-engineering/devproxy/internal/audit"
	"github.com/firefly-engineering/devproxy/internal/logging"
	"github.com/firefly-engineering/devproxy/internal/node"
)

type fakeTarget struct {
	mu      sync.Mutex
	states  []node.State
	checks  int
	lastErr string
}

func (f *fakeTarget) Check(ctx context.Context) node.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.checks
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.checks++
	return f.states[i]
}

func (f *fakeTarget) Status() node.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return node.Snapshot{State: node.StateCrashed, LastError: f.lastErr}
}

func (f *fakeTarget) Checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

func TestMonitor_New(t *testing.T) {
	m := New(30*time.Second, &fakeTarget{states: []node.State{node.StateStopped}})
	if m.interval != 30*time.Second {
		t.Errorf("interval = %v, want %v", m.interval, 30*time.Second)
	}
	if m.auditLog != nil {
		t.Error("auditLog should default to nil")
	}
}

func TestMonitor_Options(t *testing.T) {
	auditLogger := audit.NewLogger(t.TempDir())

	m := New(time.Minute, &fakeTarget{states: []node.State{node.StateStopped}}, WithAuditLogger(auditLogger))
	if m.auditLog == nil {
		t.Error("auditLog should be set")
	}
}

func TestMonitor_CheckOnceUnchanged(t *testing.T) {
	m := New(time.Second, &fakeTarget{states: []node.State{node.StateStopped}})

	result := m.checkOnce(context.Background())
	if result.Changed {
		t.Error("stopped → stopped is not a change")
	}
}

func TestMonitor_RecordsTransitions(t *testing.T) {
	target := &fakeTarget{
		states:  []node.State{node.StateRunning, node.StateRunning, node.StateCrashed},
		lastErr: "signal: killed",
	}
	auditLogger := audit.NewLogger(t.TempDir())
	m := New(time.Second, target, WithAuditLogger(auditLogger))
	ctx := context.Background()

	if r := m.checkOnce(ctx); !r.Changed || r.State != node.StateRunning {
		t.Errorf("first check = %+v", r)
	}
	if r := m.checkOnce(ctx); r.Changed {
		t.Errorf("second check = %+v, want unchanged", r)
	}
	r := m.checkOnce(ctx)
	if !r.Changed || r.Previous != node.StateRunning || r.State != node.StateCrashed {
		t.Errorf("third check = %+v", r)
	}

	events, err := auditLogger.Events(audit.ComponentNode)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(events))
	}
	if events[0].Type != audit.EventHealth || events[0].Details != "running" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Type != audit.EventCrash || events[1].Details != "signal: killed" {
		t.Errorf("event 1 = %+v", events[1])
	}
}

func TestMonitor_RunCancellation(t *testing.T) {
	target := &fakeTarget{states: []node.State{node.StateStopped}}
	m := New(50*time.Millisecond, target)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	// Let it run briefly then cancel
	time.Sleep(180 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after context cancellation")
	}

	if target.Checks() < 2 {
		t.Errorf("checks = %d, want at least 2", target.Checks())
	}
}

func TestMonitor_AuditFailureIsLogged(t *testing.T) {
	// A regular file where the state directory should be makes every write fail
	stateDir := filepath.Join(t.TempDir(), "state")
	if err := os.WriteFile(stateDir, nil, 0644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	logging.Setup(false, false, &logs)
	defer logging.Setup(false, false, os.Stderr)

	target := &fakeTarget{states: []node.State{node.StateCrashed}, lastErr: "signal: killed"}
	m := New(time.Minute, target, WithAuditLogger(audit.NewLogger(stateDir)))

	result := m.checkOnce(context.Background())
	if !result.Changed || result.State != node.StateCrashed {
		t.Fatalf("checkOnce() = %+v, want a change to crashed", result)
	}
	if !strings.Contains(logs.String(), "failed to record audit event") {
		t.Errorf("audit write failure was not logged; logs:\n%s", logs.String())
	}
}

package audit

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLogger_LogAndEvents(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	now := time.Now().Truncate(time.Millisecond)

	events := []Event{
		{Timestamp: now, Type: EventStart, Component: ComponentNode, Details: "port=8545 chain_id=31337"},
		{Timestamp: now.Add(time.Second), Type: EventHealth, Component: ComponentNode, Details: "healthy"},
		{Timestamp: now.Add(2 * time.Second), Type: EventCrash, Component: ComponentNode, Details: "exit status 1"},
		{Timestamp: now.Add(3 * time.Second), Type: EventStop, Component: ComponentNode},
	}

	for _, e := range events {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	result, err := logger.Events(ComponentNode)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}

	if len(result) != len(events) {
		t.Fatalf("got %d events, want %d", len(result), len(events))
	}

	for i, e := range result {
		if e.Type != events[i].Type {
			t.Errorf("event %d: type = %q, want %q", i, e.Type, events[i].Type)
		}
		if e.Component != events[i].Component {
			t.Errorf("event %d: component = %q, want %q", i, e.Component, events[i].Component)
		}
		if e.Details != events[i].Details {
			t.Errorf("event %d: details = %q, want %q", i, e.Details, events[i].Details)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "events", "node.events.jsonl")); err != nil {
		t.Errorf("event file not at expected path: %v", err)
	}
}

func TestLogger_EventsEmpty(t *testing.T) {
	logger := NewLogger(t.TempDir())

	result, err := logger.Events(ComponentProxy)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("got %d events, want 0", len(result))
	}
}

func TestLogger_LogEvent(t *testing.T) {
	logger := NewLogger(t.TempDir())

	if err := logger.LogEvent(EventStart, ComponentProxy, "url=http://127.0.0.1:8080"); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	events, err := logger.Events(ComponentProxy)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	e := events[0]
	if e.Type != EventStart || e.Component != ComponentProxy {
		t.Errorf("event = %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be set automatically")
	}
}

func TestLogger_PathStaysInStateDir(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	if err := logger.LogEvent(EventError, "../../escape", ""); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	path, _ := logger.eventPath("../../escape")
	rel, err := filepath.Rel(filepath.Join(dir, "events"), path)
	if err != nil || rel != "escape.events.jsonl" {
		t.Errorf("event path %q escapes the events dir", path)
	}
}

func TestLogger_Nil(t *testing.T) {
	var logger *Logger

	if err := logger.LogEvent(EventStart, ComponentNode, ""); err != nil {
		t.Errorf("nil logger LogEvent = %v", err)
	}
	if events, err := logger.Events(ComponentNode); err != nil || events != nil {
		t.Errorf("nil logger Events = %v, %v", events, err)
	}
}

func TestLogger_ConcurrentAppend(t *testing.T) {
	logger := NewLogger(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.LogEvent(EventHealth, ComponentNode, "ok")
		}()
	}
	wg.Wait()

	events, err := logger.Events(ComponentNode)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 20 {
		t.Errorf("got %d events, want 20", len(events))
	}

	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp.Add(-time.Second)) {
			t.Errorf("event %d far out of order", i)
		}
	}
}

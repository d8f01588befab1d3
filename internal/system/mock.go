package system

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
)

// ErrKilled is the Wait result of a MockProcess ended by Kill.
var ErrKilled = errors.New("mock: signal: killed")

// MockSpawner implements Spawner for testing.
type MockSpawner struct {
	mu sync.Mutex

	// Specs records every spawn request.
	Specs []SpawnSpec

	// Processes records every process handed out.
	Processes []*MockProcess

	// SpawnErr is returned by Spawn if set.
	SpawnErr error

	// OnSpawn runs after a process is created. Returning an error fails the
	// spawn. Tests use it to bring up a fake node on the requested port.
	OnSpawn func(spec SpawnSpec, p *MockProcess) error

	// IgnoreTerm makes new processes ignore SIGTERM.
	IgnoreTerm bool

	nextPid int
}

// NewMockSpawner creates a new MockSpawner.
func NewMockSpawner() *MockSpawner {
	return &MockSpawner{nextPid: 4000}
}

func (m *MockSpawner) Spawn(ctx context.Context, spec SpawnSpec) (Process, error) {
	m.mu.Lock()
	m.Specs = append(m.Specs, spec)
	if m.SpawnErr != nil {
		err := m.SpawnErr
		m.mu.Unlock()
		return nil, err
	}
	m.nextPid++
	p := &MockProcess{
		pid:        m.nextPid,
		IgnoreTerm: m.IgnoreTerm,
		exited:     make(chan struct{}),
	}
	m.Processes = append(m.Processes, p)
	hook := m.OnSpawn
	m.mu.Unlock()

	if hook != nil {
		if err := hook(spec, p); err != nil {
			p.Exit(err)
			return nil, err
		}
	}
	return p, nil
}

// LastSpec returns the most recent spawn request.
func (m *MockSpawner) LastSpec() (SpawnSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Specs) == 0 {
		return SpawnSpec{}, false
	}
	return m.Specs[len(m.Specs)-1], true
}

// LastProcess returns the most recently spawned process.
func (m *MockSpawner) LastProcess() (*MockProcess, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Processes) == 0 {
		return nil, false
	}
	return m.Processes[len(m.Processes)-1], true
}

// MockProcess implements Process for testing.
type MockProcess struct {
	pid int

	// IgnoreTerm makes the process survive SIGTERM.
	IgnoreTerm bool

	mu      sync.Mutex
	signals []os.Signal
	onExit  []func()
	exitErr error
	exited  chan struct{}
	once    sync.Once
}

// OnExit registers f to run when the process exits.
func (p *MockProcess) OnExit(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onExit = append(p.onExit, f)
}

// Exit ends the process with err as its Wait result. Later calls are no-ops.
func (p *MockProcess) Exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		hooks := p.onExit
		p.mu.Unlock()

		for _, f := range hooks {
			f()
		}
		close(p.exited)
	})
}

// Exited reports whether the process has ended.
func (p *MockProcess) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Signals returns the signals delivered so far.
func (p *MockProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]os.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}

func (p *MockProcess) Pid() int {
	return p.pid
}

func (p *MockProcess) Signal(sig os.Signal) error {
	if p.Exited() {
		return os.ErrProcessDone
	}
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	ignore := p.IgnoreTerm
	p.mu.Unlock()

	if sig == syscall.SIGTERM && !ignore {
		p.Exit(nil)
	}
	return nil
}

func (p *MockProcess) Kill() error {
	if p.Exited() {
		return os.ErrProcessDone
	}
	p.mu.Lock()
	p.signals = append(p.signals, syscall.SIGKILL)
	p.mu.Unlock()
	p.Exit(ErrKilled)
	return nil
}

func (p *MockProcess) Wait() error {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

package node

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/kballard/go-shellquote"

	"github.com/firefly-engineering/devproxy/internal/config"
	"github.com/firefly-engineering/devproxy/internal/errors"
	"github.com/firefly-engineering/devproxy/internal/health"
	"github.com/firefly-engineering/devproxy/internal/logging"
	"github.com/firefly-engineering/devproxy/internal/port"
	"github.com/firefly-engineering/devproxy/internal/system"
)

// State is the lifecycle state of the supervised node.
type State string

const (
	StateStopped   State = "stopped"
	StateLaunching State = "launching"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateCrashed   State = "crashed"
)

// Instance describes the supervised node process.
type Instance struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	ChainID   uint64    `json:"chain_id"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"started_at"`
	LastSeen  time.Time `json:"last_seen"`
	LogFile   string    `json:"log_file,omitempty"`
}

// Snapshot is a point-in-time view of the supervisor.
type Snapshot struct {
	State     State     `json:"state"`
	Instance  *Instance `json:"instance,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Options configures a Supervisor.
type Options struct {
	Binary          string
	Host            string
	ExtraArgs       []string
	LogDir          string
	StartupAttempts int
	StartupBackoff  time.Duration
	StopTimeout     time.Duration

	// Spawner starts the node process; nil uses system.DefaultSpawner.
	Spawner system.Spawner

	// Checker pings the node; nil builds one with the default timeout.
	Checker *health.Checker
}

// OptionsFromConfig builds Options from the node configuration section.
func OptionsFromConfig(cfg config.NodeConfig) (Options, error) {
	extra, err := shellquote.Split(cfg.ExtraArgs)
	if err != nil {
		return Options{}, errors.ConfigError("invalid node extra_args", err)
	}
	return Options{
		Binary:          cfg.Binary,
		Host:            cfg.Host,
		ExtraArgs:       extra,
		LogDir:          cfg.LogDir,
		StartupAttempts: cfg.StartupAttempts,
		StartupBackoff:  cfg.StartupBackoff,
		StopTimeout:     cfg.StopTimeout,
		Checker:         health.NewChecker(cfg.RPCTimeout),
	}, nil
}

// Supervisor owns at most one node process.
//
// Lifecycle transitions (Start, Stop, Check) are serialized by lifecycle.
// Bookkeeping is guarded by mu, so Status never waits on a slow startup.
type Supervisor struct {
	opts Options

	lifecycle sync.Mutex

	mu      sync.RWMutex
	state   State
	inst    *Instance
	proc    system.Process
	done    chan struct{}
	lastErr string
}

// New creates a stopped Supervisor.
func New(opts Options) *Supervisor {
	if opts.Spawner == nil {
		opts.Spawner = system.DefaultSpawner()
	}
	if opts.Checker == nil {
		opts.Checker = health.NewChecker(0)
	}
	if opts.Host == "" {
		opts.Host = config.DefaultNodeHost
	}
	if opts.StartupAttempts < 1 {
		opts.StartupAttempts = 1
	}
	if opts.StartupBackoff <= 0 {
		opts.StartupBackoff = 250 * time.Millisecond
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 3 * time.Second
	}
	return &Supervisor{opts: opts, state: StateStopped}
}

// Args returns the node command line for port and chainID. A zero chainID
// leaves the node's default in place.
func (s *Supervisor) Args(p int, chainID uint64) []string {
	args := []string{"--port", strconv.Itoa(p), "--host", s.opts.Host}
	if chainID != 0 {
		args = append(args, "--chain-id", strconv.FormatUint(chainID, 10))
	}
	return append(args, s.opts.ExtraArgs...)
}

// RPCURL returns the endpoint a node on port p is reachable at.
func (s *Supervisor) RPCURL(p int) string {
	return "http://" + port.Addr(s.opts.Host, p)
}

// Start spawns the node on port and waits for it to answer RPC. It returns
// the node's RPC URL.
func (s *Supervisor) Start(ctx context.Context, p int, chainID uint64) (string, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if err := port.Validate(p); err != nil {
		return "", err
	}

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	switch state {
	case StateLaunching, StateRunning, StateStopping:
		return "", errors.AlreadyRunning("node")
	}

	if err := port.Check(s.opts.Host, p); err != nil {
		return "", err
	}

	out, logPath, err := s.openLog(p)
	if err != nil {
		return "", err
	}

	args := s.Args(p, chainID)
	logging.Info("starting node", "command", shellquote.Join(append([]string{s.opts.Binary}, args...)...))

	proc, err := s.opts.Spawner.Spawn(ctx, system.SpawnSpec{
		Name:   s.opts.Binary,
		Args:   args,
		Stdout: out,
		Stderr: out,
	})
	if err != nil {
		closeLog(out)
		return "", errors.SpawnFailure(fmt.Sprintf("failed to start %s", s.opts.Binary), err)
	}

	url := s.RPCURL(p)
	inst := &Instance{
		PID:       proc.Pid(),
		Port:      p,
		ChainID:   chainID,
		URL:       url,
		StartedAt: time.Now(),
		LogFile:   logPath,
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateLaunching
	s.inst = inst
	s.proc = proc
	s.done = done
	s.lastErr = ""
	s.mu.Unlock()

	go s.wait(proc, done, out)

	if err := s.awaitLive(ctx, url, done); err != nil {
		_ = proc.Kill()
		s.awaitExit(done)
		s.mu.Lock()
		s.state = StateCrashed
		s.inst = nil
		s.proc = nil
		s.lastErr = err.Error()
		s.mu.Unlock()
		logging.Warn("node failed to start", "port", p, "error", err)
		return "", errors.SpawnFailure("node did not become ready", err)
	}

	s.mu.Lock()
	s.state = StateRunning
	inst.LastSeen = time.Now()
	s.mu.Unlock()

	logging.Info("node running", "pid", inst.PID, "url", url, "chain_id", chainID)
	return url, nil
}

// awaitLive retries the liveness ping until it succeeds, the process exits, or
// the attempts run out.
func (s *Supervisor) awaitLive(ctx context.Context, url string, done <-chan struct{}) error {
	var lastErr error
	for attempt := 1; attempt <= s.opts.StartupAttempts; attempt++ {
		select {
		case <-done:
			return fmt.Errorf("process exited during startup")
		default:
		}

		if lastErr = s.opts.Checker.Ping(ctx, url); lastErr == nil {
			return nil
		}
		logging.Debug("node not ready", "attempt", attempt, "error", lastErr)

		if attempt == s.opts.StartupAttempts {
			break
		}
		select {
		case <-done:
			return fmt.Errorf("process exited during startup")
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.StartupBackoff):
		}
	}
	return fmt.Errorf("no liveness response after %d attempts: %w", s.opts.StartupAttempts, lastErr)
}

// wait reaps proc and records an unexpected exit as a crash.
func (s *Supervisor) wait(proc system.Process, done chan struct{}, out io.Writer) {
	err := proc.Wait()
	closeLog(out)

	s.mu.Lock()
	if s.proc == proc && s.state == StateRunning {
		logging.Warn("node exited unexpectedly", "pid", proc.Pid(), "error", err)
		s.state = StateCrashed
		s.inst = nil
		s.proc = nil
		if err != nil {
			s.lastErr = err.Error()
		} else {
			s.lastErr = "process exited"
		}
	}
	s.mu.Unlock()

	close(done)
}

// awaitExit waits for the wait goroutine, bounded by the stop timeout.
func (s *Supervisor) awaitExit(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-time.After(s.opts.StopTimeout):
		return false
	}
}

// Stop terminates the node: SIGTERM, then SIGKILL once the stop timeout
// passes. The instance is gone afterwards whichever path ended it.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != StateRunning || s.proc == nil {
		s.mu.Unlock()
		return errors.NotRunning("node")
	}
	s.state = StateStopping
	proc, done, pid := s.proc, s.done, s.inst.PID
	s.mu.Unlock()

	logging.Info("stopping node", "pid", pid)
	if err := proc.Signal(syscall.SIGTERM); err != nil && err != os.ErrProcessDone {
		logging.Debug("SIGTERM failed", "pid", pid, "error", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("stop cancelled, killing node", "pid", pid)
		_ = proc.Kill()
		s.awaitExit(done)
	case <-time.After(s.opts.StopTimeout):
		logging.Warn("node ignored SIGTERM, killing", "pid", pid, "timeout", s.opts.StopTimeout)
		_ = proc.Kill()
		if !s.awaitExit(done) {
			logging.Error("node did not exit after SIGKILL", "pid", pid)
		}
	}

	s.mu.Lock()
	s.state = StateStopped
	s.inst = nil
	s.proc = nil
	s.mu.Unlock()

	logging.Info("node stopped", "pid", pid)
	return nil
}

// Status returns the current state and a copy of the instance.
func (s *Supervisor) Status() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{State: s.state, LastError: s.lastErr}
	if s.inst != nil {
		inst := *s.inst
		snap.Instance = &inst
	}
	return snap
}

// Check runs a liveness check against the running node. An exited process
// is marked crashed; a live process failing the RPC ping is only logged.
// While a transition is in flight Check returns the current state without
// probing.
func (s *Supervisor) Check(ctx context.Context) State {
	if !s.lifecycle.TryLock() {
		return s.Status().State
	}
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	state, done := s.state, s.done
	var url string
	if s.inst != nil {
		url = s.inst.URL
	}
	s.mu.RUnlock()

	if state != StateRunning {
		return state
	}

	select {
	case <-done:
		// Reaped; wait has already recorded the crash.
		return s.Status().State
	default:
	}

	if err := s.opts.Checker.Ping(ctx, url); err != nil {
		logging.Warn("node alive but not answering RPC", "url", url, "error", err)
		return StateRunning
	}

	s.mu.Lock()
	if s.inst != nil {
		s.inst.LastSeen = time.Now()
	}
	s.mu.Unlock()
	return StateRunning
}

// Close stops a running node. It is used on process shutdown.
func (s *Supervisor) Close(ctx context.Context) error {
	err := s.Stop(ctx)
	if errors.IsKind(err, errors.KindNotRunning) {
		return nil
	}
	return err
}

func (s *Supervisor) openLog(p int) (io.Writer, string, error) {
	if s.opts.LogDir == "" {
		return nil, "", nil
	}
	if err := os.MkdirAll(s.opts.LogDir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create node log dir: %w", err)
	}
	path, err := securejoin.SecureJoin(s.opts.LogDir, fmt.Sprintf("anvil-%d.log", p))
	if err != nil {
		return nil, "", fmt.Errorf("invalid node log path: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open node log: %w", err)
	}
	return f, path, nil
}

func closeLog(out io.Writer) {
	if c, ok := out.(io.Closer); ok {
		_ = c.Close()
	}
}

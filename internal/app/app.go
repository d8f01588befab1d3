package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/firefly-engineering/devproxy/internal/audit"
	"github.com/firefly-engineering/devproxy/internal/config"
	"github.com/firefly-engineering/devproxy/internal/credential"
	"github.com/firefly-engineering/devproxy/internal/errors"
	"github.com/firefly-engineering/devproxy/internal/health"
	"github.com/firefly-engineering/devproxy/internal/history"
	"github.com/firefly-engineering/devproxy/internal/logging"
	"github.com/firefly-engineering/devproxy/internal/monitor"
	"github.com/firefly-engineering/devproxy/internal/node"
	"github.com/firefly-engineering/devproxy/internal/proxy"
	"github.com/firefly-engineering/devproxy/internal/system"
)

// App holds the application components
type App struct {
	// Config is the loaded configuration
	Config *config.Config

	// Credentials holds the API key
	Credentials *credential.Store

	// History is the request log
	History *history.Log

	// Proxy owns the proxy server instance
	Proxy *proxy.Manager

	// Node owns the anvil process
	Node *node.Supervisor

	// Health queries node RPC endpoints
	Health *health.Checker

	// Audit records lifecycle events; nil when no state dir is configured
	Audit *audit.Logger

	spawner   system.Spawner
	transport http.RoundTripper

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// Option is a function that configures the App
type Option func(*App)

// WithConfig sets the configuration
func WithConfig(cfg *config.Config) Option {
	return func(a *App) {
		a.Config = cfg
	}
}

// WithSpawner sets a custom process spawner for the node
func WithSpawner(s system.Spawner) Option {
	return func(a *App) {
		a.spawner = s
	}
}

// WithTransport sets the HTTP transport used to reach the upstream API
func WithTransport(t http.RoundTripper) Option {
	return func(a *App) {
		a.transport = t
	}
}

// WithAuditLogger sets a custom audit logger
func WithAuditLogger(l *audit.Logger) Option {
	return func(a *App) {
		a.Audit = l
	}
}

// New creates a new App with the given options.
// Without WithConfig the built-in defaults are used.
func New(opts ...Option) (*App, error) {
	app := &App{}
	for _, opt := range opts {
		opt(app)
	}

	if app.Config == nil {
		app.Config = config.Default()
	}
	cfg := app.Config

	if app.Audit == nil && cfg.StateDir != "" {
		app.Audit = audit.NewLogger(cfg.StateDir)
	}

	store, err := credential.NewStore(credential.Config{
		UpstreamURL:    cfg.Proxy.Upstream,
		ValidationPath: cfg.Credential.ValidationPath,
		Timeout:        cfg.Credential.ValidationTimeout,
		Injector:       credential.NewInjector(cfg.Credential),
		Transport:      app.transport,
	})
	if err != nil {
		return nil, errors.ConfigError("invalid credential settings", err)
	}
	app.Credentials = store
	app.History = history.New(cfg.History.Capacity)
	app.Health = health.NewChecker(cfg.Node.RPCTimeout)

	app.Proxy = proxy.NewManager(proxy.ManagerConfig{
		Proxy: proxy.Config{
			Upstream:          cfg.Proxy.Upstream,
			Credentials:       store,
			History:           app.History,
			UpstreamTimeout:   cfg.Proxy.UpstreamTimeout,
			MaxBodyBytes:      cfg.Proxy.MaxBodyBytes,
			RateLimitRequests: cfg.Proxy.RateLimit,
			RateLimitWindow:   cfg.Proxy.RateWindow,
			AuditLogPath:      cfg.Proxy.AuditLog,
			CORS:              cfg.Proxy.CORS,
			Transport:         app.transport,
		},
		BindHost:     cfg.Proxy.BindHost,
		PublicHost:   cfg.Proxy.PublicHost,
		DrainTimeout: cfg.Proxy.DrainTimeout,
	})

	nodeOpts, err := node.OptionsFromConfig(cfg.Node)
	if err != nil {
		return nil, err
	}
	nodeOpts.Spawner = app.spawner
	nodeOpts.Checker = app.Health
	app.Node = node.New(nodeOpts)

	return app, nil
}

// StartProxyServer starts the proxy on port and returns its base URL.
func (a *App) StartProxyServer(port int) (string, error) {
	url, err := a.Proxy.Start(port)
	if err != nil {
		return "", err
	}
	a.event(audit.EventStart, audit.ComponentProxy, "url="+url)
	return url, nil
}

// StopProxyServer stops the proxy.
func (a *App) StopProxyServer(ctx context.Context) error {
	if err := a.Proxy.Stop(ctx); err != nil {
		return err
	}
	a.event(audit.EventStop, audit.ComponentProxy, "")
	return nil
}

// StoreAPIKey replaces the stored key. It never rejects a key locally.
func (a *App) StoreAPIKey(key string) error {
	if err := a.Credentials.Store(key); err != nil {
		return err
	}
	a.event(audit.EventKeyStore, audit.ComponentCredential, "")
	return nil
}

// TestAPIKey validates the stored key against the upstream. A key the
// upstream refuses yields false without an error; only a missing key or an
// unreachable upstream are errors.
func (a *App) TestAPIKey(ctx context.Context) (bool, error) {
	ok, err := a.Credentials.Validate(ctx)
	switch errors.KindOf(err) {
	case errors.KindInvalidCredential, errors.KindUpstreamRejected:
		logging.Debug("api key rejected", "error", err)
		a.event(audit.EventKeyTest, audit.ComponentCredential, "rejected")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	a.event(audit.EventKeyTest, audit.ComponentCredential, fmt.Sprintf("valid=%t", ok))
	return ok, nil
}

// StartAnvilNode starts the node and returns its RPC URL.
func (a *App) StartAnvilNode(ctx context.Context, port int, chainID uint64) (string, error) {
	url, err := a.Node.Start(ctx, port, chainID)
	if err != nil {
		if errors.IsKind(err, errors.KindSpawnFailure) {
			a.event(audit.EventError, audit.ComponentNode, err.Error())
		}
		return "", err
	}
	a.event(audit.EventStart, audit.ComponentNode, fmt.Sprintf("url=%s chain_id=%d", url, chainID))
	return url, nil
}

// StopAnvilNode stops the node.
func (a *App) StopAnvilNode(ctx context.Context) error {
	if err := a.Node.Stop(ctx); err != nil {
		return err
	}
	a.event(audit.EventStop, audit.ComponentNode, "")
	return nil
}

// GetNodeStatus queries the node at rpcURL. An empty rpcURL means the
// supervised node; with none running the result is simply not running.
// Unreachability is reported in the status, never as an error.
func (a *App) GetNodeStatus(ctx context.Context, rpcURL string) health.NodeStatus {
	if rpcURL == "" {
		snap := a.Node.Status()
		if snap.Instance == nil {
			return health.NodeStatus{IsRunning: false}
		}
		rpcURL = snap.Instance.URL
	}
	return a.Health.Query(ctx, rpcURL)
}

// GetRequestHistory returns the recorded requests, oldest first.
func (a *App) GetRequestHistory() []history.Record {
	return a.History.List()
}

// CredentialState is the externally visible part of the credential.
type CredentialState struct {
	Stored    bool `json:"stored"`
	Validated bool `json:"validated"`
}

// HistoryState summarizes the request log.
type HistoryState struct {
	Len int `json:"len"`
	Cap int `json:"cap"`
}

// Snapshot is the overall state of the process. It never carries the key.
type Snapshot struct {
	Proxy      *proxy.Instance `json:"proxy"`
	Node       node.Snapshot   `json:"node"`
	Credential CredentialState `json:"credential"`
	History    HistoryState    `json:"history"`
	Upstream   string          `json:"upstream"`
}

// Snapshot returns the current state of every component.
func (a *App) Snapshot() Snapshot {
	snap := Snapshot{
		Node:     a.Node.Status(),
		History:  HistoryState{Len: a.History.Len(), Cap: a.History.Cap()},
		Upstream: a.Config.Proxy.Upstream,
	}
	if inst, ok := a.Proxy.Instance(); ok {
		snap.Proxy = &inst
	}
	if cred, ok := a.Credentials.Current(); ok {
		snap.Credential = CredentialState{Stored: true, Validated: cred.Validated}
	}
	return snap
}

// StartMonitor runs the node liveness monitor in the background until
// Shutdown. It does nothing when the monitor interval is zero or it is
// already running.
func (a *App) StartMonitor(ctx context.Context) {
	interval := a.Config.Node.MonitorInterval
	if interval <= 0 {
		return
	}

	a.monitorMu.Lock()
	defer a.monitorMu.Unlock()
	if a.monitorCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.monitorCancel = cancel
	a.monitorDone = done

	m := monitor.New(interval, a.Node, monitor.WithAuditLogger(a.Audit))
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
}

func (a *App) stopMonitor() {
	a.monitorMu.Lock()
	cancel, done := a.monitorCancel, a.monitorDone
	a.monitorCancel, a.monitorDone = nil, nil
	a.monitorMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Shutdown stops the monitor, the proxy and the node. Components that are
// not running are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopMonitor()

	var errs []error
	if _, ok := a.Proxy.Instance(); ok {
		if err := a.Proxy.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("proxy: %w", err))
		} else {
			a.event(audit.EventStop, audit.ComponentProxy, "shutdown")
		}
	}
	if a.Node.Status().Instance != nil {
		if err := a.Node.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("node: %w", err))
		} else {
			a.event(audit.EventStop, audit.ComponentNode, "shutdown")
		}
	}
	a.Credentials.Clear()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %v", errs)
	}
	return nil
}

func (a *App) event(t audit.EventType, component, details string) {
	if err := a.Audit.LogEvent(t, component, details); err != nil {
		logging.Warn("failed to record audit event", "type", t, "component", component, "error", err)
	}
}

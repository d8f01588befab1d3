package proxy

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firefly-engineering/devproxy/internal/errors"
	"github.com/firefly-engineering/devproxy/internal/port"
)

// Instance describes the running proxy listener.
type Instance struct {
	Port      int       `json:"port"`
	Addr      string    `json:"addr"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"started_at"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Proxy is the per-instance proxy configuration
	Proxy Config

	// BindHost is the interface the listener binds to
	BindHost string

	// PublicHost is the host used in the returned URL
	PublicHost string

	// DrainTimeout bounds graceful shutdown before in-flight requests are cut
	DrainTimeout time.Duration
}

// Manager owns at most one running proxy server.
type Manager struct {
	cfg ManagerConfig

	// mu serializes Start and Stop; current is readable without it
	mu      sync.Mutex
	running *running
	current atomic.Pointer[Instance]
}

type running struct {
	proxy  *Proxy
	server *http.Server
	served chan struct{}
}

// NewManager creates a Manager with no running proxy.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.BindHost == "" {
		cfg.BindHost = "127.0.0.1"
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = cfg.BindHost
	}
	return &Manager{cfg: cfg}
}

// Start binds the proxy on port and serves it in the background. Port 0
// picks an ephemeral port. It returns the proxy URL.
func (m *Manager) Start(p int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running != nil {
		return "", errors.AlreadyRunning("proxy server")
	}
	if p != 0 {
		if err := port.Validate(p); err != nil {
			return "", err
		}
	}

	// Bind before touching any state so a busy port leaves nothing behind
	ln, err := port.Listen(m.cfg.BindHost, p)
	if err != nil {
		return "", err
	}

	proxyCfg := m.cfg.Proxy
	px, err := New(&proxyCfg)
	if err != nil {
		ln.Close()
		return "", err
	}

	server := &http.Server{
		Handler:      px,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Longer for streaming responses
		IdleTimeout:  60 * time.Second,
	}

	bound := port.ListenerPort(ln)
	inst := &Instance{
		Port:      bound,
		Addr:      ln.Addr().String(),
		URL:       "http://" + net.JoinHostPort(m.cfg.PublicHost, strconv.Itoa(bound)),
		StartedAt: time.Now(),
	}

	r := &running{proxy: px, server: server, served: make(chan struct{})}
	go func() {
		defer close(r.served)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			px.config.Logger.Error("proxy server stopped", "error", err)
		}
	}()

	m.running = r
	m.current.Store(inst)

	px.config.Logger.Info("proxy server started", "addr", inst.Addr, "upstream", px.target.String())
	return inst.URL, nil
}

// Stop shuts the proxy down. In-flight requests get DrainTimeout to finish;
// the rest are cancelled and recorded as transport failures.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.running
	if r == nil {
		return errors.NotRunning("proxy server")
	}
	logger := r.proxy.config.Logger

	drainCtx, cancel := context.WithTimeout(ctx, m.cfg.DrainTimeout)
	defer cancel()
	if err := r.server.Shutdown(drainCtx); err != nil {
		logger.Warn("proxy drain timed out, closing connections", "timeout", m.cfg.DrainTimeout)
		r.server.Close()
	}
	<-r.served

	// Cancelled handlers still owe their records
	waitCtx, cancelWait := context.WithTimeout(context.Background(), r.proxy.config.UpstreamTimeout)
	defer cancelWait()
	if err := r.proxy.Wait(waitCtx); err != nil {
		logger.Warn("proxy handlers still running after stop", "error", err)
	}

	if err := r.proxy.Close(); err != nil {
		logger.Warn("failed to close proxy resources", "error", err)
	}

	m.running = nil
	m.current.Store(nil)
	logger.Info("proxy server stopped")
	return nil
}

// Instance returns the running instance, if any.
func (m *Manager) Instance() (Instance, bool) {
	inst := m.current.Load()
	if inst == nil {
		return Instance{}, false
	}
	return *inst, true
}

// Close stops a running proxy. It is used on process shutdown.
func (m *Manager) Close(ctx context.Context) error {
	err := m.Stop(ctx)
	if errors.IsKind(err, errors.KindNotRunning) {
		return nil
	}
	return err
}

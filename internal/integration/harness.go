package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/firefly-engineering/devproxy/internal/api"
	"github.com/firefly-engineering/devproxy/internal/app"
	"github.com/firefly-engineering/devproxy/internal/client"
	"github.com/firefly-engineering/devproxy/internal/config"
	"github.com/firefly-engineering/devproxy/internal/health"
	"github.com/firefly-engineering/devproxy/internal/port"
)

// EnvEnable turns integration tests on.
const EnvEnable = "DEVPROXY_INTEGRATION_TESTS"

// EnvAnvil overrides the anvil binary.
const EnvAnvil = "DEVPROXY_ANVIL"

// TestHarness runs a full devproxy server against a real anvil binary.
type TestHarness struct {
	t       *testing.T
	tempDir string
	cfg     *config.Config
	app     *app.App
	server  *api.Server
	http    *httptest.Server
	client  *client.Client
}

// NewHarness creates a new test harness. upstream is the API the proxy
// forwards to; it may be empty when a test does not proxy.
// It will skip the test if DEVPROXY_INTEGRATION_TESTS is not set or anvil
// cannot be found.
func NewHarness(t *testing.T, upstream string) *TestHarness {
	t.Helper()

	if os.Getenv(EnvEnable) == "" {
		t.Skipf("integration tests disabled (set %s=1 to enable)", EnvEnable)
	}

	binary := os.Getenv(EnvAnvil)
	if binary == "" {
		binary = config.DefaultNodeBinary
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		t.Skipf("anvil not available: %v", err)
	}

	tempDir := t.TempDir()

	cfg := config.Default()
	cfg.StateDir = filepath.Join(tempDir, "state")
	cfg.Node.Binary = resolved
	cfg.Node.LogDir = filepath.Join(tempDir, "logs")
	cfg.Node.MonitorInterval = 200 * time.Millisecond
	cfg.Proxy.DrainTimeout = time.Second
	if upstream != "" {
		cfg.Proxy.Upstream = upstream
	}

	a, err := app.New(app.WithConfig(cfg))
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}

	h := &TestHarness{
		t:       t,
		tempDir: tempDir,
		cfg:     cfg,
		app:     a,
		server:  api.NewServer(a),
	}
	h.http = httptest.NewServer(h.server)

	h.client, err = client.New(h.http.URL)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	t.Cleanup(h.Cleanup)

	return h
}

// Config returns the server configuration.
func (h *TestHarness) Config() *config.Config {
	return h.cfg
}

// App returns the server's application context.
func (h *TestHarness) App() *app.App {
	return h.app
}

// Client returns a control client connected to the server.
func (h *TestHarness) Client() *client.Client {
	return h.client
}

// FreePort returns a loopback port that was free a moment ago.
func (h *TestHarness) FreePort() int {
	h.t.Helper()

	p, err := port.Free("127.0.0.1")
	if err != nil {
		h.t.Fatalf("Failed to find a free port: %v", err)
	}
	return p
}

// WaitForRPC waits until the node at rpcURL answers JSON-RPC.
func (h *TestHarness) WaitForRPC(rpcURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	checker := health.NewChecker(time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if checker.Ping(ctx, rpcURL) == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("node at %s not ready after %v", rpcURL, timeout)
		case <-ticker.C:
		}
	}
}

// Cleanup stops the control server and everything the app started.
func (h *TestHarness) Cleanup() {
	h.server.Close()
	h.http.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.app.Shutdown(ctx); err != nil {
		h.t.Logf("Warning: shutdown incomplete: %v", err)
	}
}

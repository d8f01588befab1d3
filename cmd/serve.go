package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/devproxy/internal/api"
	"github.com/firefly-engineering/devproxy/internal/app"
	"github.com/firefly-engineering/devproxy/internal/config"
	"github.com/firefly-engineering/devproxy/internal/errors"
	"github.com/firefly-engineering/devproxy/internal/logging"
	"github.com/firefly-engineering/devproxy/internal/port"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the devproxy control server",
	Long: `Run the control server that owns the proxy, the API key and the anvil
node. Other devproxy commands talk to it over the control API.

The proxy and the node can be started right away with --proxy-port and
--node-port. On SIGINT or SIGTERM both are stopped and the API key is
forgotten; nothing is persisted across restarts.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveProxyPort  int
	serveNodePort   int
	serveChainID    uint64
	serveAPIKeyFile string
)

const shutdownTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().IntVar(&serveProxyPort, "proxy-port", 0, "Start the proxy on this port (0 picks a free port)")
	serveCmd.Flags().IntVar(&serveNodePort, "node-port", 8545, "Start the anvil node on this port")
	serveCmd.Flags().Uint64Var(&serveChainID, "chain-id", config.DefaultChainID, "Chain id for the anvil node started with --node-port")
	serveCmd.Flags().StringVar(&serveAPIKeyFile, "api-key-file", "", "Read the API key from this file at startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StateDir == "" {
		cfg.StateDir = config.DefaultPaths().StateDir
	}
	if cfg.Node.LogDir == "" {
		cfg.Node.LogDir = filepath.Join(cfg.StateDir, "logs")
	}

	a, err := app.New(app.WithConfig(cfg))
	if err != nil {
		return err
	}

	ln, err := listenControl(cfg.Control.Listen)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap(ctx, cmd, a); err != nil {
		ln.Close()
		shutdown(a)
		return err
	}

	a.StartMonitor(ctx)

	logInfo("Control API listening on http://%s", ln.Addr())
	logInfo("Upstream: %s", cfg.Proxy.Upstream)

	serveErr := api.NewServer(a).Serve(ctx, ln, cfg.Proxy.DrainTimeout)

	logging.Info("shutting down")
	if err := shutdown(a); err != nil {
		return err
	}
	if serveErr != nil {
		return fmt.Errorf("control server: %w", serveErr)
	}
	logSuccess("Stopped")
	return nil
}

// listenControl binds the control API address.
func listenControl(addr string) (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid control address %q", addr), err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid control port %q", portStr), err)
	}
	return port.Listen(host, p)
}

// bootstrap applies the startup flags: API key, proxy and node.
func bootstrap(ctx context.Context, cmd *cobra.Command, a *app.App) error {
	if serveAPIKeyFile != "" {
		key, err := readKeyFile(serveAPIKeyFile)
		if err != nil {
			return err
		}
		if err := a.StoreAPIKey(key); err != nil {
			return err
		}
		logSuccess("API key loaded from %s", serveAPIKeyFile)
	}

	if cmd.Flags().Changed("proxy-port") {
		url, err := a.StartProxyServer(serveProxyPort)
		if err != nil {
			return err
		}
		logSuccess("Proxy running at %s", url)
	}

	if cmd.Flags().Changed("node-port") {
		url, err := a.StartAnvilNode(ctx, serveNodePort, serveChainID)
		if err != nil {
			return err
		}
		logSuccess("Anvil node running at %s", url)
	}
	return nil
}

func shutdown(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		logWarning("Shutdown incomplete: %v", err)
		return err
	}
	return nil
}

// readKeyFile reads an API key, trimming surrounding whitespace.
func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.InvalidArgument(fmt.Sprintf("failed to read API key file: %v", err))
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", errors.InvalidArgument(fmt.Sprintf("API key file %s is empty", path))
	}
	return key, nil
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultUpstreamURL     = "https://api.1inch.dev"
	DefaultControlAddr     = "127.0.0.1:7070"
	DefaultBindHost        = "127.0.0.1"
	DefaultPublicHost      = "127.0.0.1"
	DefaultValidationPath  = "/swap/v6.0/1/healthcheck"
	DefaultHistoryCapacity = 500
	DefaultMaxBodyBytes    = 64 * 1024
	DefaultNodeBinary      = "anvil"
	DefaultNodeHost        = "127.0.0.1"
	DefaultChainID         = 31337

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DEVPROXY_"
)

// Injection schemes for the stored API key.
const (
	SchemeBearer = "bearer"
	SchemeHeader = "header"
	SchemeQuery  = "query"
)

// Config is the full devproxy configuration.
type Config struct {
	StateDir   string           `toml:"state_dir" yaml:"state_dir"`
	Control    ControlConfig    `toml:"control" yaml:"control"`
	Proxy      ProxyConfig      `toml:"proxy" yaml:"proxy"`
	Credential CredentialConfig `toml:"credential" yaml:"credential"`
	History    HistoryConfig    `toml:"history" yaml:"history"`
	Node       NodeConfig       `toml:"node" yaml:"node"`
}

// ControlConfig configures the command API listener.
type ControlConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

// ProxyConfig configures the reverse proxy.
type ProxyConfig struct {
	Upstream        string        `toml:"upstream" yaml:"upstream"`
	BindHost        string        `toml:"bind_host" yaml:"bind_host"`
	PublicHost      string        `toml:"public_host" yaml:"public_host"`
	UpstreamTimeout time.Duration `toml:"upstream_timeout" yaml:"upstream_timeout"`
	DrainTimeout    time.Duration `toml:"drain_timeout" yaml:"drain_timeout"`
	MaxBodyBytes    int           `toml:"max_body_bytes" yaml:"max_body_bytes"`
	RateLimit       int           `toml:"rate_limit" yaml:"rate_limit"` // 0 = unlimited
	RateWindow      time.Duration `toml:"rate_window" yaml:"rate_window"`
	AuditLog        string        `toml:"audit_log" yaml:"audit_log"`
	CORS            bool          `toml:"cors" yaml:"cors"`
}

// CredentialConfig configures how the API key is injected and validated.
type CredentialConfig struct {
	Scheme            string        `toml:"scheme" yaml:"scheme"`
	Header            string        `toml:"header" yaml:"header"`
	QueryParam        string        `toml:"query_param" yaml:"query_param"`
	ValidationPath    string        `toml:"validation_path" yaml:"validation_path"`
	ValidationTimeout time.Duration `toml:"validation_timeout" yaml:"validation_timeout"`
}

// HistoryConfig configures the request log.
type HistoryConfig struct {
	Capacity int `toml:"capacity" yaml:"capacity"`
}

// NodeConfig configures the supervised anvil node.
type NodeConfig struct {
	Binary          string        `toml:"binary" yaml:"binary"`
	Host            string        `toml:"host" yaml:"host"`
	ExtraArgs       string        `toml:"extra_args" yaml:"extra_args"`
	LogDir          string        `toml:"log_dir" yaml:"log_dir"`
	StartupAttempts int           `toml:"startup_attempts" yaml:"startup_attempts"`
	StartupBackoff  time.Duration `toml:"startup_backoff" yaml:"startup_backoff"`
	StopTimeout     time.Duration `toml:"stop_timeout" yaml:"stop_timeout"`
	RPCTimeout      time.Duration `toml:"rpc_timeout" yaml:"rpc_timeout"`
	MonitorInterval time.Duration `toml:"monitor_interval" yaml:"monitor_interval"` // 0 disables
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Control: ControlConfig{
			Listen: DefaultControlAddr,
		},
		Proxy: ProxyConfig{
			Upstream:        DefaultUpstreamURL,
			BindHost:        DefaultBindHost,
			PublicHost:      DefaultPublicHost,
			UpstreamTimeout: 10 * time.Second,
			DrainTimeout:    3 * time.Second,
			MaxBodyBytes:    DefaultMaxBodyBytes,
			RateWindow:      time.Minute,
			CORS:            true,
		},
		Credential: CredentialConfig{
			Scheme:            SchemeBearer,
			Header:            "Authorization",
			QueryParam:        "apiKey",
			ValidationPath:    DefaultValidationPath,
			ValidationTimeout: 5 * time.Second,
		},
		History: HistoryConfig{
			Capacity: DefaultHistoryCapacity,
		},
		Node: NodeConfig{
			Binary:          DefaultNodeBinary,
			Host:            DefaultNodeHost,
			StartupAttempts: 20,
			StartupBackoff:  250 * time.Millisecond,
			StopTimeout:     3 * time.Second,
			RPCTimeout:      2 * time.Second,
			MonitorInterval: 5 * time.Second,
		},
	}
}

// Validate checks that the Config is valid.
func (c *Config) Validate() error {
	if c.Control.Listen == "" {
		return fmt.Errorf("control.listen is required")
	}
	if err := c.Proxy.Validate(); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	if err := c.Credential.Validate(); err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	if c.History.Capacity < 1 {
		return fmt.Errorf("history.capacity must be positive (got %d)", c.History.Capacity)
	}
	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	return nil
}

// Validate checks that the ProxyConfig is valid.
func (p *ProxyConfig) Validate() error {
	u, err := url.Parse(p.Upstream)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("upstream must use http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream URL has no host")
	}
	if p.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream_timeout must be positive")
	}
	if p.DrainTimeout < 0 {
		return fmt.Errorf("drain_timeout cannot be negative")
	}
	if p.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes cannot be negative")
	}
	if p.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}
	if p.RateLimit > 0 && p.RateWindow <= 0 {
		return fmt.Errorf("rate_window must be positive when rate_limit is set")
	}
	return nil
}

// Validate checks that the CredentialConfig is valid.
func (c *CredentialConfig) Validate() error {
	switch c.Scheme {
	case SchemeBearer:
	case SchemeHeader:
		if c.Header == "" {
			return fmt.Errorf("header is required for scheme %q", c.Scheme)
		}
	case SchemeQuery:
		if c.QueryParam == "" {
			return fmt.Errorf("query_param is required for scheme %q", c.Scheme)
		}
	default:
		return fmt.Errorf("invalid scheme: %s (must be bearer, header, or query)", c.Scheme)
	}
	if !strings.HasPrefix(c.ValidationPath, "/") {
		return fmt.Errorf("validation_path must start with / (got %q)", c.ValidationPath)
	}
	if c.ValidationTimeout <= 0 {
		return fmt.Errorf("validation_timeout must be positive")
	}
	return nil
}

// Validate checks that the NodeConfig is valid.
func (n *NodeConfig) Validate() error {
	if n.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if n.Host == "" {
		return fmt.Errorf("host is required")
	}
	if n.StartupAttempts < 1 {
		return fmt.Errorf("startup_attempts must be at least 1 (got %d)", n.StartupAttempts)
	}
	if n.StartupBackoff <= 0 || n.StopTimeout <= 0 || n.RPCTimeout <= 0 {
		return fmt.Errorf("startup_backoff, stop_timeout and rpc_timeout must be positive")
	}
	if n.MonitorInterval < 0 {
		return fmt.Errorf("monitor_interval cannot be negative")
	}
	if n.LogDir != "" && !filepath.IsAbs(n.LogDir) {
		return fmt.Errorf("log_dir must be an absolute path (got %q)", n.LogDir)
	}
	return nil
}

// Paths holds the configured paths
type Paths struct {
	ConfigDir string
	StateDir  string
}

// DefaultPaths returns the default path configuration
func DefaultPaths() *Paths {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configDir = filepath.Join(home, ".config")
		}
	}
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			stateDir = filepath.Join(home, ".local", "state")
		}
	}
	return &Paths{
		ConfigDir: filepath.Join(configDir, "devproxy"),
		StateDir:  filepath.Join(stateDir, "devproxy"),
	}
}

// SearchPaths returns the config files tried when no --config is given.
func SearchPaths() []string {
	return []string{
		filepath.Join(DefaultPaths().ConfigDir, "config.toml"),
		filepath.Join(DefaultPaths().ConfigDir, "config.yaml"),
		"devproxy.toml",
		"devproxy.yaml",
	}
}

// Load reads the configuration. An explicit path must exist; with an empty
// path the search paths are tried and defaults are used when none exists.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if err := decodeFile(candidate, cfg); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// decodeFile layers the file at path over cfg, picking the format by extension.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".toml", "":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
	return nil
}

// applyEnv applies DEVPROXY_* overrides.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("STATE_DIR", &cfg.StateDir)
	str("CONTROL", &cfg.Control.Listen)
	str("UPSTREAM", &cfg.Proxy.Upstream)
	str("BIND_HOST", &cfg.Proxy.BindHost)
	str("PUBLIC_HOST", &cfg.Proxy.PublicHost)
	str("AUDIT_LOG", &cfg.Proxy.AuditLog)
	str("CREDENTIAL_SCHEME", &cfg.Credential.Scheme)
	str("NODE_BINARY", &cfg.Node.Binary)
	str("NODE_EXTRA_ARGS", &cfg.Node.ExtraArgs)
	str("NODE_LOG_DIR", &cfg.Node.LogDir)

	if v, ok := lookup(EnvPrefix + "HISTORY_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sHISTORY_CAPACITY: %w", EnvPrefix, err)
		}
		cfg.History.Capacity = n
	}
	if v, ok := lookup(EnvPrefix + "UPSTREAM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sUPSTREAM_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Proxy.UpstreamTimeout = d
	}
	return nil
}

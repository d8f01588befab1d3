// Package config loads devproxy configuration.
//
// Configuration is layered: built-in defaults, then a TOML or YAML file
// (chosen by extension), then DEVPROXY_* environment variables. Command-line
// flags are applied by the cmd package on top of the loaded Config.
//
// # File Format
//
//	state_dir = "/home/me/.local/state/devproxy"
//
//	[control]
//	listen = "127.0.0.1:7070"
//
//	[proxy]
//	upstream = "https://api.1inch.dev"
//	upstream_timeout = "10s"
//	drain_timeout = "3s"
//
//	[credential]
//	scheme = "bearer"            # bearer | header | query
//	validation_path = "/swap/v6.0/1/healthcheck"
//
//	[history]
//	capacity = 500
//
//	[node]
//	binary = "anvil"
//	extra_args = "--block-time 2"
//	startup_attempts = 20
//	startup_backoff = "250ms"
//
// # Search Paths
//
// Without an explicit --config, SearchPaths is tried in order and the first
// existing file wins. A missing file is not an error.
package config

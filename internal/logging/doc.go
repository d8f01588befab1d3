// Package logging provides logging utilities for devproxy.
//
// This package provides two categories of output:
//   - Debug logging: Structured logs for debugging (via slog)
//   - User output: Formatted messages for end users
//
// # Debug Logging
//
// Debug logs are written using slog and controlled by verbosity settings:
//
//	logging.Debug("spawning node", "port", port, "chain_id", chainID)
//	logging.Warn("liveness check failed", "url", url, "error", err)
//
// The stored API key is never passed to any logging call.
//
// # User Output
//
// User-facing messages are formatted with status indicators:
//
//	logging.UserInfo("Proxy listening on %s", url)
//	logging.UserSuccess("API key stored")
//	logging.UserWarning("Node is not running")
//	logging.UserError("Failed to start node: %v", err)
//
// Output destinations:
//   - UserInfo, UserSuccess: stdout
//   - UserWarning, UserError: stderr
//
// # Badges
//
// RunningBadge, StateBadge and StatusBadge render short colored labels
// (lipgloss) for CLI tables.
package logging

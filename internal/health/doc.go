// Package health queries the status of a local blockchain node over JSON-RPC,
// using go-ethereum's ethclient.
//
// # Node Status
//
// Query issues eth_blockNumber, eth_chainId and eth_gasPrice concurrently
// with a short timeout and assembles a NodeStatus:
//
//	status := checker.Query(ctx, "http://127.0.0.1:8545")
//	// status.IsRunning, .BlockNumber, .ChainID, .GasPrice
//
// Partial degradation is not reported as "not running": only when every
// call fails at the transport level is IsRunning false. A call that fails
// on the node side (RPC error, malformed result) only leaves its own field
// empty.
//
// # Summary
//
//	StatusHealthy  - running, all fields present
//	StatusDegraded - running, some fields missing
//	StatusStopped  - unreachable
//
// # Liveness
//
// Ping is the lightweight check used during node startup and by the
// background monitor.
package health

// Package node supervises a local anvil process.
//
// A Supervisor owns at most one node. Start checks the port, spawns the
// binary through a system.Spawner and pings its RPC endpoint until it
// answers or the startup attempts run out:
//
//	stopped → launching → running → stopping → stopped
//	                   ↘ crashed   ↘ crashed
//
// A background goroutine reaps the process; an exit nobody asked for moves
// the supervisor to crashed and drops the instance, so later calls see
// NotRunning until the node is started again. Nothing restarts it
// automatically.
package node

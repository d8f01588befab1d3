// Package system provides abstractions for OS operations to enable testing.
package system

import (
	"context"
	"io"
	"os"
)

// SpawnSpec describes a child process.
type SpawnSpec struct {
	// Name is the binary to run, resolved through PATH.
	Name string

	// Args are passed after the binary name.
	Args []string

	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Process is a running child.
type Process interface {
	// Pid returns the OS process id.
	Pid() int

	// Signal delivers sig to the process.
	Signal(sig os.Signal) error

	// Kill forcibly terminates the process.
	Kill() error

	// Wait blocks until the process exits. It must be called exactly once.
	Wait() error
}

// Spawner starts child processes.
type Spawner interface {
	// Spawn starts the process described by spec. The context only bounds
	// the start itself; the child outlives it.
	Spawn(ctx context.Context, spec SpawnSpec) (Process, error)
}

var defaultSpawner Spawner = &osSpawner{}

// DefaultSpawner returns the Spawner that starts real OS processes.
func DefaultSpawner() Spawner {
	return defaultSpawner
}

// SetDefaultSpawner sets the default Spawner (useful for testing).
func SetDefaultSpawner(s Spawner) {
	defaultSpawner = s
}

// ResetDefaults restores the default OS implementations.
func ResetDefaults() {
	defaultSpawner = &osSpawner{}
}

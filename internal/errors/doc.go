// Package errors provides kinded errors with exit codes for devproxy.
//
// # Error Types
//
// Error is the base error type. It pairs a human-readable message with a
// stable Kind tag so the command boundary can branch on semantics:
//
//	type Error struct {
//	    Kind    Kind   // Stable tag, e.g. "AlreadyRunning"
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	}
//
// # Kinds
//
// Lifecycle kinds (detected before any state mutation):
//
//	AlreadyRunning, NotRunning, PortInUse, SpawnFailure
//
// Credential and upstream kinds:
//
//	NoCredentialStored, InvalidCredential, UpstreamUnreachable,
//	UpstreamRejected, RpcUnreachable
//
// Ambient kinds:
//
//	ConfigError, InvalidArgument, General
//
// # Error Constructors
//
//	errors.AlreadyRunning("proxy server")
//	errors.PortInUse(8080, err)
//	errors.SpawnFailure("anvil exited during startup", err)
//	errors.NoCredentialStored()
//
// # Extracting Kinds and Exit Codes
//
//	switch errors.KindOf(err) {
//	case errors.KindNotRunning:
//	    ...
//	}
//
//	if err != nil {
//	    os.Exit(errors.GetExitCode(err))
//	}
package errors

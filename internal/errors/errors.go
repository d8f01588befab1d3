package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable tag callers branch on instead of message text.
type Kind string

const (
	KindGeneral             Kind = "General"
	KindAlreadyRunning      Kind = "AlreadyRunning"
	KindNotRunning          Kind = "NotRunning"
	KindPortInUse           Kind = "PortInUse"
	KindSpawnFailure        Kind = "SpawnFailure"
	KindNoCredentialStored  Kind = "NoCredentialStored"
	KindInvalidCredential   Kind = "InvalidCredential"
	KindUpstreamUnreachable Kind = "UpstreamUnreachable"
	KindUpstreamRejected    Kind = "UpstreamRejected"
	KindRPCUnreachable      Kind = "RpcUnreachable"
	KindConfigError         Kind = "ConfigError"
	KindInvalidArgument     Kind = "InvalidArgument"
)

// Exit codes for devproxy
const (
	ExitSuccess             = 0
	ExitGeneralError        = 1
	ExitAlreadyRunning      = 2
	ExitNotRunning          = 3
	ExitPortInUse           = 4
	ExitSpawnFailure        = 5
	ExitConfigError         = 6
	ExitCredentialError     = 7
	ExitUpstreamUnreachable = 8
	ExitInvalidArgument     = 9
)

var exitCodes = map[Kind]int{
	KindGeneral:             ExitGeneralError,
	KindAlreadyRunning:      ExitAlreadyRunning,
	KindNotRunning:          ExitNotRunning,
	KindPortInUse:           ExitPortInUse,
	KindSpawnFailure:        ExitSpawnFailure,
	KindNoCredentialStored:  ExitCredentialError,
	KindInvalidCredential:   ExitCredentialError,
	KindUpstreamUnreachable: ExitUpstreamUnreachable,
	KindUpstreamRejected:    ExitUpstreamUnreachable,
	KindRPCUnreachable:      ExitUpstreamUnreachable,
	KindConfigError:         ExitConfigError,
	KindInvalidArgument:     ExitInvalidArgument,
}

// Error is the base error type for devproxy
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so sentinel
// comparisons like errors.Is(err, errors.NotRunning("")) work across messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// ExitCode returns the exit code for this error
func (e *Error) ExitCode() int {
	if code, ok := exitCodes[e.Kind]; ok {
		return code
	}
	return ExitGeneralError
}

// New creates a new Error
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Wrap wraps an existing error with an Error
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Common error constructors

// AlreadyRunning returns an error for a second start of a singleton instance
func AlreadyRunning(what string) *Error {
	return New(KindAlreadyRunning, fmt.Sprintf("%s is already running", what))
}

// NotRunning returns an error for a stop with no active instance
func NotRunning(what string) *Error {
	return New(KindNotRunning, fmt.Sprintf("%s is not running", what))
}

// PortInUse returns an error when the OS refuses a bind
func PortInUse(port int, cause error) *Error {
	return Wrap(KindPortInUse, fmt.Sprintf("port %d is already in use", port), cause)
}

// SpawnFailure returns an error when a subprocess could not be brought up
func SpawnFailure(message string, cause error) *Error {
	return Wrap(KindSpawnFailure, message, cause)
}

// NoCredentialStored returns an error for reads before any store
func NoCredentialStored() *Error {
	return New(KindNoCredentialStored, "no API key stored")
}

// InvalidCredential returns an error when the upstream rejects the secret
func InvalidCredential(status int) *Error {
	return New(KindInvalidCredential, fmt.Sprintf("API key rejected by upstream (status %d)", status))
}

// UpstreamUnreachable returns an error when the upstream call cannot complete
func UpstreamUnreachable(cause error) *Error {
	return Wrap(KindUpstreamUnreachable, "upstream unreachable", cause)
}

// UpstreamRejected returns an error for an unexpected non-2xx upstream status
func UpstreamRejected(status int) *Error {
	return New(KindUpstreamRejected, fmt.Sprintf("upstream returned status %d", status))
}

// RPCUnreachable returns an error when a node RPC endpoint cannot be reached
func RPCUnreachable(url string, cause error) *Error {
	return Wrap(KindRPCUnreachable, fmt.Sprintf("rpc endpoint %s unreachable", url), cause)
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *Error {
	return Wrap(KindConfigError, message, cause)
}

// InvalidArgument returns an error for input validation failures
func InvalidArgument(message string) *Error {
	return New(KindInvalidArgument, message)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneral
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return ExitGeneralError
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

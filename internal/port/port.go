package port

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	ferrors "github.com/firefly-engineering/devproxy/internal/errors"
)

// Valid TCP port range. Zero asks the OS for an ephemeral port.
const (
	Min = 1
	Max = 65535
)

// Validate checks that p is a usable fixed port.
func Validate(p int) error {
	if p < Min || p > Max {
		return ferrors.InvalidArgument(fmt.Sprintf("port must be between %d and %d (got %d)", Min, Max, p))
	}
	return nil
}

// Addr joins host and port.
func Addr(host string, p int) string {
	return net.JoinHostPort(host, strconv.Itoa(p))
}

// Listen binds a TCP listener, mapping address-in-use failures to PortInUse.
func Listen(host string, p int) (net.Listener, error) {
	ln, err := net.Listen("tcp", Addr(host, p))
	if err != nil {
		if IsInUse(err) {
			return nil, ferrors.PortInUse(p, err)
		}
		return nil, fmt.Errorf("failed to bind %s: %w", Addr(host, p), err)
	}
	return ln, nil
}

// Check verifies that p can currently be bound on host.
func Check(host string, p int) error {
	ln, err := Listen(host, p)
	if err != nil {
		return err
	}
	return ln.Close()
}

// IsInUse reports whether err is an address-in-use bind failure.
func IsInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// ListenerPort returns the port a listener is bound to.
func ListenerPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Free asks the OS for a currently unused port on host.
func Free(host string) (int, error) {
	ln, err := net.Listen("tcp", Addr(host, 0))
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ListenerPort(ln), nil
}

// Package port provides TCP port validation and bind helpers.
//
// Both the proxy and the node supervisor must report PortInUse when the OS
// refuses a bind, before any state is mutated. Listen and Check perform the
// bind and translate EADDRINUSE into a kinded error:
//
//	ln, err := port.Listen("127.0.0.1", 8080)
//	if errors.IsKind(err, errors.KindPortInUse) { ... }
//
// Check does a trial bind and releases it immediately; it is used before
// spawning a subprocess that will bind the port itself.
//
// Free returns an unused port and exists for tests.
package port

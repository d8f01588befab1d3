// Package integration provides a test harness for integration tests
// that run a real anvil binary.
//
// Integration tests are skipped unless the DEVPROXY_INTEGRATION_TESTS
// environment variable is set. anvil must be on PATH, or DEVPROXY_ANVIL
// must point at it.
//
// # Test Harness
//
// TestHarness runs a control server backed by the real process spawner:
//
//	func TestMyIntegration(t *testing.T) {
//	    h := integration.NewHarness(t, "") // Skips if disabled
//
//	    url, err := h.Client().StartAnvilNode(ctx, h.FreePort(), 31337)
//	    ...
//
//	    // Cleanup is automatic via t.Cleanup
//	}
//
// # Running Integration Tests
//
//	DEVPROXY_INTEGRATION_TESTS=1 go test -v ./internal/integration/...
package integration

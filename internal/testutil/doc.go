// Package testutil provides test doubles and fixtures.
//
// # Fake Node
//
// FakeNode answers eth_chainId, eth_blockNumber and eth_gasPrice over
// JSON-RPC, so node supervision and health checks can be tested without an
// anvil binary:
//
//	node, _ := testutil.NewFakeNode(31337)
//	defer node.Close()
//	node.Fail("eth_gasPrice")
//
// StartFakeNodeOn binds a specific port, which mock spawners use to stand in
// for a launched process.
//
// # Stub Upstream
//
// StubUpstream records every request and answers with a configurable status
// and body. With a key it rejects requests lacking the bearer credential.
//
// # Fixtures
//
// Config files are embedded under fixtures/. WriteFixture copies one into a
// temp dir and returns the path.
package testutil

// Package app provides the application context for devproxy.
//
// The App owns every long-lived component and exposes one method per
// control command. It is built with the functional options pattern so tests
// can swap the process spawner and the upstream transport.
//
// # Creating an App
//
//	// Production usage
//	a, err := app.New(app.WithConfig(cfg))
//
//	// Testing with a mock spawner
//	a, err := app.New(
//	    app.WithConfig(cfg),
//	    app.WithSpawner(system.NewMockSpawner()),
//	)
//
// # Commands
//
//	StartProxyServer(port)            // proxy URL
//	StopProxyServer(ctx)
//	StoreAPIKey(key)
//	TestAPIKey(ctx)                   // valid or not
//	StartAnvilNode(ctx, port, chain)  // RPC URL
//	StopAnvilNode(ctx)
//	GetNodeStatus(ctx, rpcURL)        // never fails
//	GetRequestHistory()
//
// Shutdown stops whatever is still running and forgets the API key.
package app

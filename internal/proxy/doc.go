// Package proxy provides an HTTP proxy for API key injection and request recording.
//
// The proxy sits between local clients (scripts, dApps, the browser) and a
// remote API. Clients call it without credentials; the proxy strips anything
// they send, injects the stored API key and records the transaction.
//
// # Key Features
//
//   - API key injection: the key stays in the process, never with callers
//   - One history record per request, including failures
//   - Bounded capture of request and response bodies
//   - Optional per-client rate limiting and a JSONL audit file
//   - Permissive CORS so browser dApps can call it directly
//
// # Running the Proxy
//
//	m := proxy.NewManager(proxy.ManagerConfig{
//	    Proxy: proxy.Config{
//	        Upstream:    "https://api.1inch.dev",
//	        Credentials: store,
//	        History:     log,
//	    },
//	    BindHost:     "127.0.0.1",
//	    DrainTimeout: 3 * time.Second,
//	})
//	url, err := m.Start(8080)
//	defer m.Stop(ctx)
//
// # How It Works
//
//  1. CORS preflights are answered locally and not recorded
//  2. Rate-limited clients get 429
//  3. Without a stored key the proxy answers 401 and never calls upstream
//  4. Otherwise the key is injected and the request forwarded
//  5. Transport failures become 502 with a record whose status is null
package proxy

// Package credential holds the single API key used for outbound injection.
//
// The key is stored as an immutable entry behind an atomic pointer: Store
// swaps in a fresh entry, so concurrent readers on the proxy hot path see
// either the old key or the new one, never a partial write. Validation
// results are attached to the entry they were computed for, so a Store that
// races with Validate can never inherit a stale "validated" flag.
//
// # Injection Schemes
//
//	bearer  Authorization: Bearer <key>
//	header  <Header>: <key>
//	query   ?<QueryParam>=<key>
//
// # Validation
//
// Validate issues GET <upstream><ValidationPath> with the key injected:
//
//	2xx      validated, returns true
//	401/403  InvalidCredential
//	5xx      UpstreamUnreachable
//	other    UpstreamRejected
//	network  UpstreamUnreachable
//
// The key never appears in String, JSON, or log output.
package credential

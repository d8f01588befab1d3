// Package api serves the devproxy control API.
//
// Every command is a POST to /api/commands/{name} with a JSON argument
// object. Responses are envelopes:
//
//	{"result": ...}
//	{"error": {"kind": "AlreadyRunning", "message": "proxy server is already running"}}
//
// GET /api/history/stream upgrades to a websocket and pushes one request
// record per message as the proxy records them. GET /api/healthz answers
// "ok" while the control server is up.
package api

package api

import (
	"encoding/json"
	"net/http"

	"github.com/firefly-engineering/devproxy/internal/errors"
)

// Command names accepted by POST /api/commands/{name}.
const (
	CmdStartProxyServer  = "start_proxy_server"
	CmdStopProxyServer   = "stop_proxy_server"
	CmdStoreAPIKey       = "store_api_key"
	CmdTestAPIKey        = "test_api_key"
	CmdStartAnvilNode    = "start_anvil_node"
	CmdStopAnvilNode     = "stop_anvil_node"
	CmdGetNodeStatus     = "get_node_status"
	CmdGetRequestHistory = "get_request_history"
	CmdGetStatus         = "get_status"
)

// Paths served by the control API.
const (
	CommandsPath      = "/api/commands/"
	HistoryStreamPath = "/api/history/stream"
	HealthPath        = "/api/healthz"
)

// Args is the JSON body of a command. Each command reads only the fields it
// needs; pointer fields distinguish "missing" from zero.
type Args struct {
	Port    *int    `json:"port,omitempty"`
	Key     *string `json:"key,omitempty"`
	ChainID uint64  `json:"chainId,omitempty"`
	RPCURL  string  `json:"rpcUrl,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Kind    errors.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Envelope is the response of every command. Exactly one of Result and
// Error is set.
type Envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// Err converts an error envelope back into an *errors.Error.
func (e *ErrorBody) Err() error {
	return errors.New(e.Kind, e.Message)
}

// StatusFor maps an error kind to the HTTP status of its envelope.
func StatusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindAlreadyRunning, errors.KindNotRunning, errors.KindPortInUse:
		return http.StatusConflict
	case errors.KindInvalidArgument:
		return http.StatusBadRequest
	case errors.KindInvalidCredential:
		return http.StatusUnauthorized
	case errors.KindNoCredentialStored:
		return http.StatusPreconditionFailed
	case errors.KindUpstreamUnreachable, errors.KindUpstreamRejected, errors.KindRPCUnreachable, errors.KindSpawnFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

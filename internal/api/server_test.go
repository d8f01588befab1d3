package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firefly-engineering/devproxy/internal/app"
	"github.com/firefly-engineering/devproxy/internal/config"
	"github.com/firefly-engineering/devproxy/internal/errors"
	"github.com/firefly-engineering/devproxy/internal/health"
	"github.com/firefly-engineering/devproxy/internal/history"
	"github.com/firefly-engineering/devproxy/internal/system"
	"github.com/firefly-engineering/devproxy/internal/testutil"
)

const testKey = "sk-api-test"

func newTestApp(t *testing.T, upstream string) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.Proxy.Upstream = upstream
	cfg.Proxy.DrainTimeout = 500 * time.Millisecond
	cfg.Node.LogDir = t.TempDir()
	cfg.Node.MonitorInterval = 0

	a, err := app.New(app.WithConfig(cfg), app.WithSpawner(system.NewMockSpawner()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func newTestServer(t *testing.T, upstream string) (*httptest.Server, *app.App) {
	t.Helper()
	a := newTestApp(t, upstream)
	s := NewServer(a)
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return srv, a
}

func command(t *testing.T, baseURL, name string, args any) (int, Envelope) {
	t.Helper()
	var body bytes.Buffer
	if args != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(args))
	}
	resp, err := http.Post(baseURL+CommandsPath+name, "application/json", &body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "http://127.0.0.1:1")

	resp, err := http.Get(srv.URL + HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCommand_Unknown(t *testing.T) {
	srv, _ := newTestServer(t, "http://127.0.0.1:1")

	status, env := command(t, srv.URL, "format_disk", nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.KindInvalidArgument, env.Error.Kind)
}

func TestCommand_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, "http://127.0.0.1:1")

	resp, err := http.Post(srv.URL+CommandsPath+CmdStartProxyServer, "application/json", strings.NewReader("{port:"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommand_MissingPort(t *testing.T) {
	srv, _ := newTestServer(t, "http://127.0.0.1:1")

	for _, name := range []string{CmdStartProxyServer, CmdStartAnvilNode} {
		status, env := command(t, srv.URL, name, map[string]any{})
		assert.Equal(t, http.StatusBadRequest, status, name)
		require.NotNil(t, env.Error, name)
		assert.Equal(t, errors.KindInvalidArgument, env.Error.Kind, name)
	}
}

func TestCommand_ProxyLifecycle(t *testing.T) {
	upstream := testutil.NewStubUpstream("")
	defer upstream.Close()
	srv, _ := newTestServer(t, upstream.URL)

	status, env := command(t, srv.URL, CmdStartProxyServer, Args{Port: new(int)})
	require.Equal(t, http.StatusOK, status, "error: %+v", env.Error)
	var url string
	require.NoError(t, json.Unmarshal(env.Result, &url))
	assert.True(t, strings.HasPrefix(url, "http://127.0.0.1:"))

	status, env = command(t, srv.URL, CmdStartProxyServer, Args{Port: new(int)})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.KindAlreadyRunning, env.Error.Kind)

	status, env = command(t, srv.URL, CmdStopProxyServer, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, env.Error)

	status, env = command(t, srv.URL, CmdStopProxyServer, nil)
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.KindNotRunning, env.Error.Kind)
}

func TestCommand_APIKey(t *testing.T) {
	upstream := testutil.NewStubUpstream(testKey)
	defer upstream.Close()
	srv, _ := newTestServer(t, upstream.URL)

	status, env := command(t, srv.URL, CmdTestAPIKey, nil)
	assert.Equal(t, http.StatusPreconditionFailed, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.KindNoCredentialStored, env.Error.Kind)

	status, _ = command(t, srv.URL, CmdStoreAPIKey, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)

	key := testKey
	status, env = command(t, srv.URL, CmdStoreAPIKey, Args{Key: &key})
	require.Equal(t, http.StatusOK, status, "error: %+v", env.Error)

	status, env = command(t, srv.URL, CmdTestAPIKey, nil)
	require.Equal(t, http.StatusOK, status, "error: %+v", env.Error)
	var valid bool
	require.NoError(t, json.Unmarshal(env.Result, &valid))
	assert.True(t, valid)

	status, env = command(t, srv.URL, CmdGetStatus, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(env.Result), testKey)
	assert.Contains(t, string(env.Result), `"stored":true`)
}

func TestCommand_GetNodeStatusWithoutNode(t *testing.T) {
	srv, _ := newTestServer(t, "http://127.0.0.1:1")

	status, env := command(t, srv.URL, CmdGetNodeStatus, Args{RPCURL: "http://127.0.0.1:1"})
	require.Equal(t, http.StatusOK, status)

	var ns health.NodeStatus
	require.NoError(t, json.Unmarshal(env.Result, &ns))
	assert.False(t, ns.IsRunning)
}

func TestCommand_GetRequestHistory(t *testing.T) {
	srv, a := newTestServer(t, "http://127.0.0.1:1")
	a.History.Append(history.Record{Method: "GET", URL: "http://127.0.0.1:1/a"})

	status, env := command(t, srv.URL, CmdGetRequestHistory, nil)
	require.Equal(t, http.StatusOK, status)

	var records []history.Record
	require.NoError(t, json.Unmarshal(env.Result, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "http://127.0.0.1:1/a", records[0].URL)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind errors.Kind
		want int
	}{
		{errors.KindAlreadyRunning, http.StatusConflict},
		{errors.KindPortInUse, http.StatusConflict},
		{errors.KindInvalidArgument, http.StatusBadRequest},
		{errors.KindInvalidCredential, http.StatusUnauthorized},
		{errors.KindNoCredentialStored, http.StatusPreconditionFailed},
		{errors.KindSpawnFailure, http.StatusBadGateway},
		{errors.KindRPCUnreachable, http.StatusBadGateway},
		{errors.KindGeneral, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.kind), string(tt.kind))
	}
}

func wsURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http")
}

func TestHistoryStream(t *testing.T) {
	srv, a := newTestServer(t, "http://127.0.0.1:1")
	a.History.Append(history.Record{Method: "GET", URL: "/old"})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+HistoryStreamPath+"?replay=true", nil)
	require.NoError(t, err)
	defer conn.Close()

	a.History.Append(history.Record{Method: "POST", URL: "/new"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second history.Record
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "/old", first.URL)
	assert.Equal(t, "/new", second.URL)
}

func TestHistoryStream_ProxiedRequest(t *testing.T) {
	upstream := testutil.NewStubUpstream("")
	defer upstream.Close()
	srv, a := newTestServer(t, upstream.URL)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+HistoryStreamPath, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, a.StoreAPIKey(testKey))
	url, err := a.StartProxyServer(0)
	require.NoError(t, err)
	resp, err := http.Get(url + "/quote")
	require.NoError(t, err)
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rec history.Record
	require.NoError(t, conn.ReadJSON(&rec))
	assert.Equal(t, upstream.URL+"/quote", rec.URL)
	require.NotNil(t, rec.Status)
	assert.Equal(t, http.StatusOK, *rec.Status)
}

func TestServe_ShutdownClosesStreams(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:1")
	s := NewServer(a)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln, time.Second) }()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base)+HistoryStreamPath, nil)
	require.NoError(t, err)
	defer conn.Close()

	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_FailedUpgradeDoesNotBlockShutdown(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:1")
	s := NewServer(a)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln, time.Second) }()

	// A plain GET is not a websocket handshake
	resp, err := http.Get(base + HistoryStreamPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve waited on a stream that never opened")
	}
}

func TestCommand_RejectsCrossSiteRequests(t *testing.T) {
	srv, a := newTestServer(t, "http://127.0.0.1:1")
	body := `{"key":"attacker-key"}`

	tests := []struct {
		name        string
		contentType string
		origin      string
		wantStatus  int
	}{
		{"text/plain form post", "text/plain", "", http.StatusUnsupportedMediaType},
		{"missing content type", "", "", http.StatusUnsupportedMediaType},
		{"foreign origin", "application/json", "http://evil.example", http.StatusForbidden},
		{"foreign origin as text/plain", "text/plain", "http://evil.example", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL+CommandsPath+CmdStoreAPIKey, strings.NewReader(body))
			require.NoError(t, err)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var env Envelope
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			require.NotNil(t, env.Error)
			assert.Equal(t, errors.KindInvalidArgument, env.Error.Kind)

			_, stored := a.Credentials.Current()
			assert.False(t, stored, "a rejected request must not store a key")
		})
	}
}

func TestCommand_AcceptsSameOrigin(t *testing.T) {
	srv, a := newTestServer(t, "http://127.0.0.1:1")

	req, err := http.NewRequest(http.MethodPost, srv.URL+CommandsPath+CmdStoreAPIKey, strings.NewReader(`{"key":"k"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Origin", srv.URL)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, stored := a.Credentials.Current()
	assert.True(t, stored)
}

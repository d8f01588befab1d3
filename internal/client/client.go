// Package client talks to a running devproxy control server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firefly-engineering/devproxy/internal/api"
	"github.com/firefly-engineering/devproxy/internal/app"
	"github.com/firefly-engineering/devproxy/internal/errors"
	"github.com/firefly-engineering/devproxy/internal/health"
	"github.com/firefly-engineering/devproxy/internal/history"
	"github.com/firefly-engineering/devproxy/internal/logging"
)

// DefaultTimeout bounds a single command round trip. Node start can take
// the whole startup liveness window, so it is generous.
const DefaultTimeout = 30 * time.Second

// Client issues control commands over HTTP.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for the control server at addr, given either as
// host:port or as an http URL.
func New(addr string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil || base.Host == "" {
		return nil, errors.InvalidArgument(fmt.Sprintf("invalid control address %q", addr))
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.InvalidArgument(fmt.Sprintf("control address must be http or https (got %q)", base.Scheme))
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	return &Client{
		base: base,
		http: &http.Client{Timeout: DefaultTimeout},
	}, nil
}

// call runs one command and decodes its result into out, which may be nil.
func (c *Client) call(ctx context.Context, name string, args api.Args, out any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return err
	}

	endpoint := c.base.String() + api.CommandsPath + name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	logging.Debug("control command", "command", name, "endpoint", endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindGeneral,
			fmt.Sprintf("cannot reach devproxy at %s (is 'devproxy serve' running?)", c.base.Host), err)
	}
	defer resp.Body.Close()

	var env api.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("invalid response from control server (status %d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		return env.Error.Err()
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("invalid %s result: %w", name, err)
	}
	return nil
}

// StartProxyServer starts the proxy and returns its URL.
func (c *Client) StartProxyServer(ctx context.Context, port int) (string, error) {
	var url string
	err := c.call(ctx, api.CmdStartProxyServer, api.Args{Port: &port}, &url)
	return url, err
}

// StopProxyServer stops the proxy.
func (c *Client) StopProxyServer(ctx context.Context) error {
	return c.call(ctx, api.CmdStopProxyServer, api.Args{}, nil)
}

// StoreAPIKey replaces the stored key.
func (c *Client) StoreAPIKey(ctx context.Context, key string) error {
	return c.call(ctx, api.CmdStoreAPIKey, api.Args{Key: &key}, nil)
}

// TestAPIKey validates the stored key against the upstream.
func (c *Client) TestAPIKey(ctx context.Context) (bool, error) {
	var ok bool
	err := c.call(ctx, api.CmdTestAPIKey, api.Args{}, &ok)
	return ok, err
}

// StartAnvilNode starts the node and returns its RPC URL.
func (c *Client) StartAnvilNode(ctx context.Context, port int, chainID uint64) (string, error) {
	var url string
	err := c.call(ctx, api.CmdStartAnvilNode, api.Args{Port: &port, ChainID: chainID}, &url)
	return url, err
}

// StopAnvilNode stops the node.
func (c *Client) StopAnvilNode(ctx context.Context) error {
	return c.call(ctx, api.CmdStopAnvilNode, api.Args{}, nil)
}

// GetNodeStatus queries a node; an empty rpcURL means the supervised one.
func (c *Client) GetNodeStatus(ctx context.Context, rpcURL string) (health.NodeStatus, error) {
	var status health.NodeStatus
	err := c.call(ctx, api.CmdGetNodeStatus, api.Args{RPCURL: rpcURL}, &status)
	return status, err
}

// GetRequestHistory returns the recorded requests, oldest first.
func (c *Client) GetRequestHistory(ctx context.Context) ([]history.Record, error) {
	var records []history.Record
	err := c.call(ctx, api.CmdGetRequestHistory, api.Args{}, &records)
	return records, err
}

// Status returns the server's component snapshot.
func (c *Client) Status(ctx context.Context) (app.Snapshot, error) {
	var snap app.Snapshot
	err := c.call(ctx, api.CmdGetStatus, api.Args{}, &snap)
	return snap, err
}

// Follow streams new history records to fn until ctx is cancelled, the
// server goes away, or fn returns an error. With replay the existing history
// is delivered first.
func (c *Client) Follow(ctx context.Context, replay bool, fn func(history.Record) error) error {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += api.HistoryStreamPath
	if replay {
		u.RawQuery = "replay=true"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(errors.KindGeneral,
			fmt.Sprintf("cannot open history stream at %s", c.base.Host), err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		var rec history.Record
		if err := conn.ReadJSON(&rec); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("history stream: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

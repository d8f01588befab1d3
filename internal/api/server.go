package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/firefly-engineering/devproxy/internal/app"
	"github.com/firefly-engineering/devproxy/internal/errors"
	"github.com/firefly-engineering/devproxy/internal/logging"
)

const (
	maxArgsBytes = 1 << 20
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = 2 * pingPeriod
)

type handlerFunc func(ctx context.Context, args Args) (any, error)

// Server exposes an App over HTTP.
type Server struct {
	app      *app.App
	router   *mux.Router
	commands map[string]handlerFunc
	upgrader websocket.Upgrader

	// closing ends open history streams, which Shutdown does not track
	closing   chan struct{}
	closeOnce sync.Once
	streams   sync.WaitGroup
}

// NewServer creates a control server for a.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:     a,
		router:  mux.NewRouter(),
		closing: make(chan struct{}),
	}
	s.commands = map[string]handlerFunc{
		CmdStartProxyServer:  s.startProxyServer,
		CmdStopProxyServer:   s.stopProxyServer,
		CmdStoreAPIKey:       s.storeAPIKey,
		CmdTestAPIKey:        s.testAPIKey,
		CmdStartAnvilNode:    s.startAnvilNode,
		CmdStopAnvilNode:     s.stopAnvilNode,
		CmdGetNodeStatus:     s.getNodeStatus,
		CmdGetRequestHistory: s.getRequestHistory,
		CmdGetStatus:         s.getStatus,
	}
	s.routes()
	return s
}

// routes sets up the API routes
func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/commands/{name}", s.commandHandler).Methods(http.MethodPost)
	api.HandleFunc("/history/stream", s.historyStreamHandler).Methods(http.MethodGet)
	api.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)

	s.router.Use(s.loggingMiddleware)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve answers requests on ln until ctx is cancelled, then shuts down
// gracefully within timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, timeout time.Duration) error {
	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
	}
	s.streams.Wait()

	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close ends all open history streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) commandHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	// Browsers cannot send a cross-site JSON POST without a preflight, which
	// this server never answers
	if !sameOrigin(r) {
		logging.Warn("rejected cross-origin command", "command", name, "origin", r.Header.Get("Origin"))
		writeEnvelope(w, http.StatusForbidden, Envelope{Error: &ErrorBody{
			Kind:    errors.KindInvalidArgument,
			Message: "cross-origin requests are not allowed",
		}})
		return
	}
	if !isJSON(r) {
		writeEnvelope(w, http.StatusUnsupportedMediaType, Envelope{Error: &ErrorBody{
			Kind:    errors.KindInvalidArgument,
			Message: "content type must be application/json",
		}})
		return
	}

	handler, ok := s.commands[name]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, Envelope{Error: &ErrorBody{
			Kind:    errors.KindInvalidArgument,
			Message: fmt.Sprintf("unknown command %q", name),
		}})
		return
	}

	var args Args
	body, err := io.ReadAll(io.LimitReader(r.Body, maxArgsBytes))
	if err != nil {
		s.writeError(w, name, errors.InvalidArgument("failed to read arguments"))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			s.writeError(w, name, errors.InvalidArgument("invalid arguments: "+err.Error()))
			return
		}
	}

	result, err := handler(r.Context(), args)
	if err != nil {
		s.writeError(w, name, err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, name, fmt.Errorf("failed to encode result: %w", err))
		return
	}
	writeEnvelope(w, http.StatusOK, Envelope{Result: data})
}

// sameOrigin applies the websocket upgrader's default origin rule: no Origin
// header, or one whose host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func (s *Server) writeError(w http.ResponseWriter, command string, err error) {
	kind := errors.KindOf(err)
	logging.Debug("command failed", "command", command, "kind", kind, "error", err)
	writeEnvelope(w, StatusFor(kind), Envelope{Error: &ErrorBody{Kind: kind, Message: err.Error()}})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func (s *Server) startProxyServer(_ context.Context, args Args) (any, error) {
	if args.Port == nil {
		return nil, errors.InvalidArgument("port is required")
	}
	return s.app.StartProxyServer(*args.Port)
}

func (s *Server) stopProxyServer(ctx context.Context, _ Args) (any, error) {
	return nil, s.app.StopProxyServer(ctx)
}

func (s *Server) storeAPIKey(_ context.Context, args Args) (any, error) {
	if args.Key == nil {
		return nil, errors.InvalidArgument("key is required")
	}
	return nil, s.app.StoreAPIKey(*args.Key)
}

func (s *Server) testAPIKey(ctx context.Context, _ Args) (any, error) {
	return s.app.TestAPIKey(ctx)
}

func (s *Server) startAnvilNode(ctx context.Context, args Args) (any, error) {
	if args.Port == nil {
		return nil, errors.InvalidArgument("port is required")
	}
	return s.app.StartAnvilNode(ctx, *args.Port, args.ChainID)
}

func (s *Server) stopAnvilNode(ctx context.Context, _ Args) (any, error) {
	return nil, s.app.StopAnvilNode(ctx)
}

func (s *Server) getNodeStatus(ctx context.Context, args Args) (any, error) {
	return s.app.GetNodeStatus(ctx, args.RPCURL), nil
}

func (s *Server) getRequestHistory(context.Context, Args) (any, error) {
	return s.app.GetRequestHistory(), nil
}

func (s *Server) getStatus(context.Context, Args) (any, error) {
	return s.app.Snapshot(), nil
}

// historyStreamHandler pushes every new record to a websocket client. With
// ?replay=true the current history is sent first.
func (s *Server) historyStreamHandler(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the upgrade so no record slips between replay and live
	records, cancel := s.app.History.Subscribe()
	defer cancel()

	s.streams.Add(1)
	defer s.streams.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var lastSeq uint64
	if r.URL.Query().Get("replay") == "true" {
		for _, rec := range s.app.History.List() {
			if err := writeJSON(conn, rec); err != nil {
				return
			}
			lastSeq = rec.Seq
		}
	}

	// Reader: handles pongs and notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return
			}
			if rec.Seq <= lastSeq {
				continue
			}
			if err := writeJSON(conn, rec); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// loggingMiddleware logs incoming requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("control request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

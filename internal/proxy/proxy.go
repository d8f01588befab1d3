// Package proxy provides an HTTP proxy for API key injection and request recording
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/firefly-engineering/devproxy/internal/credential"
	"github.com/firefly-engineering/devproxy/internal/history"
	"github.com/firefly-engineering/devproxy/internal/logging"
)

// Config holds proxy configuration
type Config struct {
	// Upstream is the API base URL (e.g., "https://api.1inch.dev")
	Upstream string

	// Credentials supplies the key injected into every forwarded request
	Credentials *credential.Store

	// History receives one record per proxied request
	History *history.Log

	// UpstreamTimeout bounds each forwarded request
	UpstreamTimeout time.Duration

	// MaxBodyBytes caps captured request and response bodies (0 = don't capture)
	MaxBodyBytes int

	// RateLimitRequests is the max requests per client per window (0 = unlimited)
	RateLimitRequests int

	// RateLimitWindow is the rate limit window duration
	RateLimitWindow time.Duration

	// AuditLogPath is the path to mirror records to as JSONL (empty = no file)
	AuditLogPath string

	// CORS answers preflights locally and allows any origin
	CORS bool

	// Logger for proxy operations
	Logger *slog.Logger

	// Transport is an optional HTTP transport for the reverse proxy.
	// Used in tests to supply a TLS-aware transport for test servers.
	Transport http.RoundTripper
}

const (
	missingCredentialMessage = "no API key stored"
	defaultUpstreamTimeout   = 10 * time.Second
)

// Proxy is an HTTP reverse proxy with auth injection
type Proxy struct {
	config       *Config
	target       *url.URL
	injector     credential.Injector
	reverseProxy *httputil.ReverseProxy
	rateLimiter  *rateLimiter
	auditLog     *auditLogger
	inflight     sync.WaitGroup
}

type exchangeKey struct{}

// exchange carries per-request state from the reverse proxy callbacks back
// to ServeHTTP.
type exchange struct {
	err error
}

// New creates a new proxy instance
func New(cfg *Config) (*Proxy, error) {
	target, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("upstream must use http or https (got %q)", target.Scheme)
	}
	if cfg.Credentials == nil || cfg.History == nil {
		return nil, fmt.Errorf("proxy requires a credential store and a history log")
	}

	if cfg.Logger == nil {
		cfg.Logger = logging.Logger
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = defaultUpstreamTimeout
	}

	// Plain HTTP is fine for local stubs, but the key travels in the clear
	if target.Scheme == "http" && !isInternalHost(target.Hostname()) {
		cfg.Logger.Warn("upstream is not HTTPS; the API key will be sent in plaintext", "upstream", target.Host)
	}

	p := &Proxy{
		config:   cfg,
		target:   target,
		injector: cfg.Credentials.Injector(),
	}

	p.reverseProxy = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = singleJoiningSlash(target.Path, req.URL.Path)
			req.URL.RawPath = ""
			req.Host = target.Host

			// Remove hop-by-hop headers
			req.Header.Del("Connection")
			req.Header.Del("Proxy-Connection")
			req.Header.Del("Proxy-Authenticate")
			req.Header.Del("Proxy-Authorization")

			if _, ok := req.Header["User-Agent"]; !ok {
				req.Header.Set("User-Agent", "")
			}
		},
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
	}

	// Use custom transport if provided (e.g., for TLS test servers)
	if cfg.Transport != nil {
		p.reverseProxy.Transport = cfg.Transport
	}

	if cfg.RateLimitRequests > 0 {
		p.rateLimiter = newRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	if cfg.AuditLogPath != "" {
		al, err := newAuditLogger(cfg.AuditLogPath, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit logger: %w", err)
		}
		p.auditLog = al
	}

	return p, nil
}

// ServeHTTP implements http.Handler
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.config.CORS && isPreflight(r) {
		p.setCORS(w.Header())
		w.WriteHeader(http.StatusNoContent)
		return
	}

	p.inflight.Add(1)
	defer p.inflight.Done()

	startTime := time.Now()
	clientIP := clientAddr(r.RemoteAddr)

	p.config.Logger.Debug("proxy request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr)

	// The client's own credential never reaches the upstream or the record
	p.injector.Strip(r)

	reqBody := newCapture(p.config.MaxBodyBytes)
	if r.Body != nil && r.Body != http.NoBody {
		r.Body = &teeReadCloser{ReadCloser: r.Body, capture: reqBody}
	}

	lw := &loggingResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           newCapture(p.config.MaxBodyBytes),
	}
	rec := history.Record{
		Timestamp: startTime,
		Method:    r.Method,
		URL:       p.targetURL(r.URL),
	}

	// Exactly one record per request, also when the reverse proxy aborts
	// the handler mid-response.
	ex := &exchange{}
	defer func() {
		if v := recover(); v != nil {
			if ex.err == nil {
				ex.err = fmt.Errorf("response aborted: %v", v)
			}
			p.finish(rec, startTime, reqBody, lw, ex, nil)
			panic(v)
		}
	}()

	// Check rate limit
	if p.rateLimiter != nil && !p.rateLimiter.allow(clientIP) {
		p.config.Logger.Warn("rate limit exceeded", "client", clientIP)
		p.writeError(lw, http.StatusTooManyRequests, "rate_limit_error", "Rate limit exceeded")
		p.finish(rec, startTime, reqBody, lw, ex, nil)
		return
	}

	cred, ok := p.config.Credentials.Current()
	if !ok {
		drain(r.Body, p.config.MaxBodyBytes)
		p.writeError(lw, http.StatusUnauthorized, "missing_credential", "No API key stored; store one before proxying")
		p.finish(rec, startTime, reqBody, lw, ex, errors.New(missingCredentialMessage))
		return
	}
	p.injector.Inject(r, cred.Secret())

	ctx, cancel := context.WithTimeout(r.Context(), p.config.UpstreamTimeout)
	defer cancel()
	r = r.WithContext(context.WithValue(ctx, exchangeKey{}, ex))

	p.reverseProxy.ServeHTTP(lw, r)

	var localErr error
	if ex.err != nil {
		localErr = errors.New(p.describe(ex.err, cred.Secret()))
	}
	p.finish(rec, startTime, reqBody, lw, ex, localErr)
}

// finish completes rec and appends it to the history and the audit file.
// A non-nil localErr means no upstream response was relayed.
func (p *Proxy) finish(rec history.Record, start time.Time, reqBody *capture, lw *loggingResponseWriter, ex *exchange, localErr error) {
	if localErr == nil && ex.err != nil {
		localErr = errors.New(p.describe(ex.err, p.secret()))
	}
	rec.DurationMs = history.Ptr(time.Since(start).Milliseconds())
	rec.RequestBody = reqBody.Value()
	rec.ResponseBody = lw.body.Value()
	if localErr != nil {
		rec.Error = history.Ptr(localErr.Error())
	} else {
		rec.Status = history.Ptr(lw.statusCode)
	}

	stored := p.config.History.Append(rec)
	if p.auditLog != nil {
		p.auditLog.log(stored)
	}
}

// targetURL is the upstream URL a request maps to, before injection.
func (p *Proxy) targetURL(in *url.URL) string {
	u := *p.target
	u.Path = singleJoiningSlash(p.target.Path, in.Path)
	u.RawPath = ""
	u.RawQuery = in.RawQuery
	u.Fragment = ""
	return u.String()
}

func (p *Proxy) secret() string {
	if cred, ok := p.config.Credentials.Current(); ok {
		return cred.Secret()
	}
	return ""
}

// describe renders a transport failure without ever echoing the key.
func (p *Proxy) describe(err error, secret string) string {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("upstream timeout after %s", p.config.UpstreamTimeout)
	}
	if secret != "" {
		msg = strings.ReplaceAll(msg, secret, "[redacted]")
	}
	return msg
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	if p.config.CORS {
		resp.Header.Del("Access-Control-Allow-Origin")
		resp.Header.Del("Access-Control-Allow-Headers")
		resp.Header.Del("Access-Control-Allow-Methods")
		p.setCORS(resp.Header)
	}
	return nil
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if ex, ok := r.Context().Value(exchangeKey{}).(*exchange); ok {
		ex.err = err
	}
	p.config.Logger.Error("proxy error", "error", p.describe(err, p.secret()), "path", r.URL.Path)
	p.writeError(w, http.StatusBadGateway, "proxy_error", "Upstream request failed")
}

func (p *Proxy) writeError(w http.ResponseWriter, status int, kind, message string) {
	if p.config.CORS {
		p.setCORS(w.Header())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"type": kind, "message": message},
	})
}

func (p *Proxy) setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Max-Age", "600")
}

// Wait blocks until in-flight requests have been recorded or ctx ends.
func (p *Proxy) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the proxy and releases resources
func (p *Proxy) Close() error {
	if p.rateLimiter != nil {
		p.rateLimiter.stop()
	}
	if p.auditLog != nil {
		return p.auditLog.close()
	}
	return nil
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

func clientAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// isInternalHost returns true for loopback and link-local hosts.
func isInternalHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate()
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

func drain(body io.ReadCloser, limit int) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, int64(limit)+1))
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code and body
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        *capture
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	if !lw.wroteHeader {
		lw.statusCode = code
		lw.wroteHeader = true
	}
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	lw.wroteHeader = true
	_, _ = lw.body.Write(b)
	return lw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush on the underlying writer.
func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

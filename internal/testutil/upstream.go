package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// UpstreamRequest is what a StubUpstream saw.
type UpstreamRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

// StubUpstream is a recording stand-in for the remote API.
type StubUpstream struct {
	*httptest.Server

	mu       sync.Mutex
	requests []UpstreamRequest
	status   int
	body     string
	delay    time.Duration
	validKey string
}

// NewStubUpstream starts a stub answering 200 with a JSON body. When
// validKey is non-empty, requests without "Authorization: Bearer <validKey>"
// get 401.
func NewStubUpstream(validKey string) *StubUpstream {
	s := &StubUpstream{
		status:   http.StatusOK,
		body:     `{"ok":true}`,
		validKey: validKey,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Respond sets the status and body for subsequent requests.
func (s *StubUpstream) Respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

// SetDelay delays responses.
func (s *StubUpstream) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Requests returns the recorded requests.
func (s *StubUpstream) Requests() []UpstreamRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UpstreamRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *StubUpstream) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, UpstreamRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	status, respBody, delay, validKey := s.status, s.body, s.delay, s.validKey
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if validKey != "" && r.Header.Get("Authorization") != "Bearer "+validKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(respBody))
}

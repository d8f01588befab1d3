package credential

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/firefly-engineering/devproxy/internal/errors"
	"github.com/firefly-engineering/devproxy/internal/logging"
)

// Credential is a read-only view of the stored key.
type Credential struct {
	secret    string
	Validated bool
}

// Secret returns the raw key for injection.
func (c Credential) Secret() string {
	return c.secret
}

// String redacts the key.
func (c Credential) String() string {
	return "[redacted]"
}

// MarshalJSON never emits the key.
func (c Credential) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"validated":%t}`, c.Validated)), nil
}

type entry struct {
	secret    string
	validated atomic.Bool
}

// Config holds credential store configuration
type Config struct {
	// UpstreamURL is the API base the key is validated against
	UpstreamURL string

	// ValidationPath is the low-cost authenticated read used by Validate
	ValidationPath string

	// Timeout bounds the validation round trip
	Timeout time.Duration

	// Injector decides where the key goes on outbound requests
	Injector Injector

	// Transport is an optional HTTP transport, used in tests.
	Transport http.RoundTripper
}

// Store holds at most one credential.
type Store struct {
	current  atomic.Pointer[entry]
	upstream *url.URL
	cfg      Config
	client   *http.Client
}

// NewStore creates an empty store.
func NewStore(cfg Config) (*Store, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Transport != nil {
		client.Transport = cfg.Transport
	}

	return &Store{
		upstream: upstream,
		cfg:      cfg,
		client:   client,
	}, nil
}

// Store replaces the credential unconditionally and resets validation.
// The previous entry is cleared by dropping the only reference to it; readers
// already holding it finish with it.
func (s *Store) Store(secret string) error {
	e := &entry{secret: secret}
	s.current.Store(e)
	logging.Debug("api key stored", "length", len(secret))
	return nil
}

// Clear drops the stored credential.
func (s *Store) Clear() {
	s.current.Store(nil)
}

// Current returns the stored credential, if any.
func (s *Store) Current() (Credential, bool) {
	e := s.current.Load()
	if e == nil {
		return Credential{}, false
	}
	return Credential{secret: e.secret, Validated: e.validated.Load()}, true
}

// Injector returns the configured injector.
func (s *Store) Injector() Injector {
	return s.cfg.Injector
}

// transportCause drops the request URL from a client error, since a query
// injected key is part of it, and redacts any remaining copy of the secret.
func transportCause(err error, secret string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = fmt.Errorf("%s validation request: %w", urlErr.Op, urlErr.Err)
	}
	if secret != "" && strings.Contains(err.Error(), secret) {
		return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), secret, "[redacted]"))
	}
	return err
}

// Validate performs a round trip against the upstream with the stored key.
func (s *Store) Validate(ctx context.Context) (bool, error) {
	e := s.current.Load()
	if e == nil {
		return false, errors.NoCredentialStored()
	}

	target := *s.upstream
	target.Path = strings.TrimSuffix(target.Path, "/") + s.cfg.ValidationPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build validation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	s.cfg.Injector.Inject(req, e.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		e.validated.Store(false)
		return false, errors.UpstreamUnreachable(transportCause(err, e.secret))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	logging.Debug("api key validation", "status", resp.StatusCode, "path", s.cfg.ValidationPath)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		e.validated.Store(true)
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.validated.Store(false)
		return false, errors.InvalidCredential(resp.StatusCode)
	case resp.StatusCode >= 500:
		e.validated.Store(false)
		return false, errors.UpstreamUnreachable(fmt.Errorf("upstream returned status %d", resp.StatusCode))
	default:
		e.validated.Store(false)
		return false, errors.UpstreamRejected(resp.StatusCode)
	}
}

package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/firefly-engineering/devproxy/internal/config"
	"github.com/firefly-engineering/devproxy/internal/errors"
)

func newTestStore(t *testing.T, upstream string, scheme string) *Store {
	t.Helper()
	cc := config.Default().Credential
	cc.Scheme = scheme
	cc.Header = "X-Api-Key"
	cc.ValidationPath = "/healthcheck"

	s, err := NewStore(Config{
		UpstreamURL:    upstream,
		ValidationPath: cc.ValidationPath,
		Injector:       NewInjector(cc),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStore_ValidateWithoutCredential(t *testing.T) {
	s := newTestStore(t, "http://127.0.0.1:1", config.SchemeBearer)

	ok, err := s.Validate(context.Background())
	if ok {
		t.Error("Validate() = true, want false")
	}
	if !errors.IsKind(err, errors.KindNoCredentialStored) {
		t.Errorf("Validate() error = %v, want NoCredentialStored", err)
	}
}

func TestStore_ValidateAccepted(t *testing.T) {
	var gotAuth, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	s := newTestStore(t, upstream.URL, config.SchemeBearer)
	if err := s.Store("sk-good"); err != nil {
		t.Fatal(err)
	}

	ok, err := s.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !ok {
		t.Error("Validate() = false, want true")
	}
	if gotAuth != "Bearer sk-good" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer sk-good")
	}
	if gotPath != "/healthcheck" {
		t.Errorf("path = %q, want /healthcheck", gotPath)
	}

	cred, _ := s.Current()
	if !cred.Validated {
		t.Error("credential should be marked validated")
	}
}

func TestStore_ValidateRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	s := newTestStore(t, upstream.URL, config.SchemeBearer)
	s.Store("sk-bad")

	ok, err := s.Validate(context.Background())
	if ok {
		t.Error("Validate() = true, want false")
	}
	if !errors.IsKind(err, errors.KindInvalidCredential) {
		t.Errorf("Validate() error = %v, want InvalidCredential", err)
	}
}

func TestStore_ValidateStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   errors.Kind
	}{
		{http.StatusForbidden, errors.KindInvalidCredential},
		{http.StatusNotFound, errors.KindUpstreamRejected},
		{http.StatusBadGateway, errors.KindUpstreamUnreachable},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer upstream.Close()

			s := newTestStore(t, upstream.URL, config.SchemeBearer)
			s.Store("sk")

			_, err := s.Validate(context.Background())
			if errors.KindOf(err) != tt.want {
				t.Errorf("kind = %q, want %q", errors.KindOf(err), tt.want)
			}
		})
	}
}

func TestStore_ValidateUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	s := newTestStore(t, url, config.SchemeBearer)
	s.Store("sk")

	_, err := s.Validate(context.Background())
	if !errors.IsKind(err, errors.KindUpstreamUnreachable) {
		t.Errorf("Validate() error = %v, want UpstreamUnreachable", err)
	}
}

func TestStore_ValidateUnreachableQuerySchemeHidesKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	s := newTestStore(t, url, config.SchemeQuery)
	s.Store("sk-secret-value")

	_, err := s.Validate(context.Background())
	if !errors.IsKind(err, errors.KindUpstreamUnreachable) {
		t.Fatalf("Validate() error = %v, want UpstreamUnreachable", err)
	}
	if strings.Contains(err.Error(), "sk-secret-value") {
		t.Errorf("error text leaked the key: %v", err)
	}
	if strings.Contains(err.Error(), "apiKey=") {
		t.Errorf("error text carries the request query: %v", err)
	}
}

func TestTransportCause(t *testing.T) {
	err := transportCause(fmt.Errorf("dial sk-abc failed"), "sk-abc")
	if strings.Contains(err.Error(), "sk-abc") {
		t.Errorf("transportCause() = %v, want key redacted", err)
	}
}

func TestStore_StoreResetsValidation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	s := newTestStore(t, upstream.URL, config.SchemeBearer)
	s.Store("first")
	if _, err := s.Validate(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Store("second")
	cred, ok := s.Current()
	if !ok {
		t.Fatal("Current() should report a credential")
	}
	if cred.Validated {
		t.Error("a newly stored credential must not be validated")
	}
	if cred.Secret() != "second" {
		t.Errorf("Secret() = %q, want %q", cred.Secret(), "second")
	}
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t, "http://127.0.0.1:1", config.SchemeBearer)
	s.Store("x")
	s.Clear()
	if _, ok := s.Current(); ok {
		t.Error("Current() should be empty after Clear")
	}
}

func TestCredential_NeverSerialized(t *testing.T) {
	s := newTestStore(t, "http://127.0.0.1:1", config.SchemeBearer)
	s.Store("sk-super-secret")
	cred, _ := s.Current()

	data, err := json.Marshal(cred)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-super-secret") {
		t.Errorf("JSON leaked secret: %s", data)
	}
	if strings.Contains(fmt.Sprintf("%v %s", cred, cred), "sk-super-secret") {
		t.Error("fmt output leaked secret")
	}
}

func TestStore_ConcurrentStoreAndRead(t *testing.T) {
	s := newTestStore(t, "http://127.0.0.1:1", config.SchemeBearer)
	valid := map[string]bool{}
	for i := 0; i < 10; i++ {
		valid[strings.Repeat(fmt.Sprint(i), 32)] = true
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Store(strings.Repeat(fmt.Sprint(i), 32))
			}
		}(i)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if cred, ok := s.Current(); ok && !valid[cred.Secret()] {
					t.Errorf("observed torn secret %q", cred.Secret())
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestInjector(t *testing.T) {
	tests := []struct {
		name   string
		inj    Injector
		check  func(*http.Request) string
		expect string
	}{
		{
			name:   "bearer",
			inj:    Injector{Scheme: config.SchemeBearer},
			check:  func(r *http.Request) string { return r.Header.Get("Authorization") },
			expect: "Bearer k",
		},
		{
			name:   "header",
			inj:    Injector{Scheme: config.SchemeHeader, Header: "X-Api-Key"},
			check:  func(r *http.Request) string { return r.Header.Get("X-Api-Key") },
			expect: "k",
		},
		{
			name:   "query",
			inj:    Injector{Scheme: config.SchemeQuery, QueryParam: "apiKey"},
			check:  func(r *http.Request) string { return r.URL.Query().Get("apiKey") },
			expect: "k",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v5.0/1/quote?from=a", nil)
			tt.inj.Inject(req, "k")
			if got := tt.check(req); got != tt.expect {
				t.Errorf("injected = %q, want %q", got, tt.expect)
			}
			if req.URL.Query().Get("from") != "a" {
				t.Error("existing query parameters must survive injection")
			}

			tt.inj.Strip(req)
			if got := tt.check(req); got != "" {
				t.Errorf("after Strip = %q, want empty", got)
			}
		})
	}
}

package credential

import (
	"net/http"

	"github.com/firefly-engineering/devproxy/internal/config"
)

// Injector attaches a secret to an outbound request.
type Injector struct {
	Scheme     string
	Header     string
	QueryParam string
}

// NewInjector builds an Injector from configuration.
func NewInjector(cfg config.CredentialConfig) Injector {
	return Injector{
		Scheme:     cfg.Scheme,
		Header:     cfg.Header,
		QueryParam: cfg.QueryParam,
	}
}

// Inject sets the secret on req, replacing any client-supplied value.
func (i Injector) Inject(req *http.Request, secret string) {
	switch i.Scheme {
	case config.SchemeHeader:
		req.Header.Set(i.Header, secret)
	case config.SchemeQuery:
		q := req.URL.Query()
		q.Set(i.QueryParam, secret)
		req.URL.RawQuery = q.Encode()
	default:
		req.Header.Set("Authorization", "Bearer "+secret)
	}
}

// Strip removes any client-supplied credential so only the stored one is sent.
func (i Injector) Strip(req *http.Request) {
	switch i.Scheme {
	case config.SchemeHeader:
		req.Header.Del(i.Header)
	case config.SchemeQuery:
		q := req.URL.Query()
		if q.Has(i.QueryParam) {
			q.Del(i.QueryParam)
			req.URL.RawQuery = q.Encode()
		}
	default:
		req.Header.Del("Authorization")
	}
}

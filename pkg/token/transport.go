package token

import (
	"net/http"
	"sync"
	"time"

	"github.com/edulaunch/ltiauth/pkg/repositories/registration"
)

// Transport is an http.RoundTripper that attaches a service access token to
// outgoing platform API calls, fetching a new one through the Retriever
// when the cached token is about to expire.
type Transport struct {
	Base         http.RoundTripper
	Retriever    *Retriever
	Registration *registration.ClientRegistration
	Scopes       []string

	mu      sync.Mutex
	current *Response
	expiry  time.Time
}

// expiryLeeway renews tokens slightly early so in-flight requests don't
// race the expiry.
const expiryLeeway = 10 * time.Second

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.token(req)
	if err != nil {
		return nil, err
	}
	// RoundTrippers must not mutate the original request.
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+tok)
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

func (t *Transport) token(req *http.Request) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil && time.Now().Add(expiryLeeway).Before(t.expiry) {
		return t.current.AccessToken, nil
	}
	resp, err := t.Retriever.GetToken(req.Context(), t.Registration, t.Scopes...)
	if err != nil {
		return "", err
	}
	t.current = resp
	t.expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return resp.AccessToken, nil
}

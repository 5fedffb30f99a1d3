// Package token obtains OAuth2 access tokens for calling platform services
// (AGS, NRPS, ...) after a launch, using the signed-JWT client-credentials
// grant from the IMS Security Framework.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/edulaunch/ltiauth/pkg/common/keys"
	"github.com/edulaunch/ltiauth/pkg/common/logger"
	"github.com/edulaunch/ltiauth/pkg/lti"
	"github.com/edulaunch/ltiauth/pkg/repositories/registration"
)

// DefaultAssertionLifetime is how long a client assertion stays valid.
// Short on purpose: assertions are single-use and generated per attempt.
const DefaultAssertionLifetime = 60 * time.Second

// Response is the standard OAuth2 access token response.
type Response struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// ErrNoScopes is returned when GetToken is called without any scopes.
var ErrNoScopes = errors.New("token: at least one scope must be requested")

// KeyError indicates no signing key could be resolved for a registration.
type KeyError struct {
	RegistrationID string
	Err            error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("token: no signing key for registration %s: %v", e.RegistrationID, e.Err)
}
func (e *KeyError) Unwrap() error { return e.Err }

// SigningError wraps a cryptographic failure while signing the assertion.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return "token: signing client assertion: " + e.Err.Error() }
func (e *SigningError) Unwrap() error { return e.Err }

// EndpointError carries a non-2xx answer from the token endpoint, with the
// RFC 6749 error fields when the platform sent them.
type EndpointError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *EndpointError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token endpoint returned %d: %s (%s)", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
}

// Retriever obtains service access tokens. It performs no retries: the
// caller owns retry policy, and every attempt gets a freshly signed
// assertion because of the short lifetime and single-use jti.
type Retriever struct {
	keys     keys.Service
	client   *http.Client
	lifetime time.Duration
}

func NewRetriever(keySvc keys.Service) *Retriever {
	return NewRetrieverWithClient(keySvc, &http.Client{Timeout: 30 * time.Second})
}

// NewRetrieverWithClient lets callers control the transport. Deadlines
// should normally come from the request context, not the client.
func NewRetrieverWithClient(keySvc keys.Service, client *http.Client) *Retriever {
	return &Retriever{keys: keySvc, client: client, lifetime: DefaultAssertionLifetime}
}

// SetAssertionLifetime overrides the assertion expiry window.
func (t *Retriever) SetAssertionLifetime(d time.Duration) {
	if d > 0 {
		t.lifetime = d
	}
}

// GetToken requests an access token for the given scopes from the
// registration's token endpoint.
func (t *Retriever) GetToken(ctx context.Context, reg *registration.ClientRegistration, scopes ...string) (*Response, error) {
	if len(scopes) == 0 {
		return nil, ErrNoScopes
	}
	if reg == nil {
		return nil, errors.New("token: nil client registration")
	}

	assertion, err := t.signAssertion(reg)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", lti.ClientAssertionType)
	form.Set("scope", strings.Join(scopes, " "))
	form.Set("client_assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		epErr := &EndpointError{StatusCode: resp.StatusCode}
		var oauthErr struct {
			Code        string `json:"error"`
			Description string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			epErr.Code = oauthErr.Code
			epErr.Description = oauthErr.Description
		}
		return nil, epErr
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("token: decoding response: %w", err)
	}
	logger.Debug("obtained service token for registration %s scope=%q expires_in=%d",
		reg.RegistrationID, out.Scope, out.ExpiresIn)
	return &out, nil
}

// signAssertion builds and signs the client-credentials JWT: issuer and
// subject are both the client id, the audience is the token endpoint, and
// the jti is fresh on every call.
func (t *Retriever) signAssertion(reg *registration.ClientRegistration) (string, error) {
	key, kid, err := t.keys.KeyPair(reg.RegistrationID)
	if err != nil {
		return "", &KeyError{RegistrationID: reg.RegistrationID, Err: err}
	}

	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(reg.ClientID).
		Subject(reg.ClientID).
		Audience([]string{reg.TokenURI}).
		IssuedAt(now).
		Expiration(now.Add(t.lifetime)).
		JwtID(uuid.NewString()).
		Build()
	if err != nil {
		return "", &SigningError{Err: err}
	}

	jwkKey, err := jwk.FromRaw(key)
	if err != nil {
		return "", &SigningError{Err: err}
	}
	hdrs := jws.NewHeaders()
	_ = hdrs.Set(jws.KeyIDKey, kid)
	_ = hdrs.Set(jws.TypeKey, "JWT")

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, jwkKey, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", &SigningError{Err: err}
	}
	return string(signed), nil
}

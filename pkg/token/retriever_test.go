package token_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulaunch/ltiauth/pkg/common/keys"
	"github.com/edulaunch/ltiauth/pkg/lti"
	"github.com/edulaunch/ltiauth/pkg/repositories/registration"
	"github.com/edulaunch/ltiauth/pkg/token"
)

const scoreScope = "https://purl.imsglobal.org/spec/lti-ags/scope/score"

type tokenFixture struct {
	retriever *token.Retriever
	reg       *registration.ClientRegistration
	key       *rsa.PrivateKey
	forms     []url.Values
	status    int
	body      string
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySvc, err := keys.NewSingleKeyService(priv, "tool-key-1")
	require.NoError(t, err)

	f := &tokenFixture{
		key:    priv,
		status: http.StatusOK,
		body:   `{"access_token":"at-1","token_type":"Bearer","expires_in":3600,"scope":"` + scoreScope + `"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.forms = append(f.forms, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
	}))
	t.Cleanup(srv.Close)

	f.reg = &registration.ClientRegistration{
		RegistrationID: "moodle-1",
		ClientID:       "client-1",
		Issuer:         "https://platform.test",
		TokenURI:       srv.URL + "/token",
	}
	f.retriever = token.NewRetriever(keySvc)
	return f
}

// parseAssertion verifies the captured client assertion against the tool key
// and returns it.
func (f *tokenFixture) parseAssertion(t *testing.T, form url.Values) jwt.Token {
	t.Helper()
	require.Len(t, form["client_assertion"], 1, "exactly one client assertion per request")
	tok, err := jwt.ParseString(form.Get("client_assertion"),
		jwt.WithKey(jwa.RS256, f.key.Public()),
		jwt.WithValidate(false),
	)
	require.NoError(t, err)
	return tok
}

func TestGetToken(t *testing.T) {
	f := newTokenFixture(t)
	resp, err := f.retriever.GetToken(context.Background(), f.reg, scoreScope)
	require.NoError(t, err)
	assert.Equal(t, "at-1", resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	require.Len(t, f.forms, 1)
	form := f.forms[0]
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, lti.ClientAssertionType, form.Get("client_assertion_type"))
	assert.Equal(t, scoreScope, form.Get("scope"))

	tok := f.parseAssertion(t, form)
	assert.Equal(t, "client-1", tok.Issuer())
	assert.Equal(t, "client-1", tok.Subject())
	assert.Equal(t, []string{f.reg.TokenURI}, tok.Audience())
	assert.NotEmpty(t, tok.JwtID())
	assert.Equal(t, token.DefaultAssertionLifetime, tok.Expiration().Sub(tok.IssuedAt()))
}

func TestGetTokenAssertionHeaders(t *testing.T) {
	f := newTokenFixture(t)
	_, err := f.retriever.GetToken(context.Background(), f.reg, scoreScope)
	require.NoError(t, err)

	msg, err := jws.ParseString(f.forms[0].Get("client_assertion"))
	require.NoError(t, err)
	require.Len(t, msg.Signatures(), 1)
	hdrs := msg.Signatures()[0].ProtectedHeaders()
	assert.Equal(t, jwa.RS256, hdrs.Algorithm())
	assert.Equal(t, "tool-key-1", hdrs.KeyID())
	assert.Equal(t, "JWT", hdrs.Type())
}

func TestGetTokenFreshJTIPerCall(t *testing.T) {
	f := newTokenFixture(t)
	_, err := f.retriever.GetToken(context.Background(), f.reg, scoreScope)
	require.NoError(t, err)
	_, err = f.retriever.GetToken(context.Background(), f.reg, scoreScope)
	require.NoError(t, err)

	require.Len(t, f.forms, 2)
	first := f.parseAssertion(t, f.forms[0])
	second := f.parseAssertion(t, f.forms[1])
	assert.NotEqual(t, first.JwtID(), second.JwtID(), "assertions are single-use")
}

func TestGetTokenMultipleScopes(t *testing.T) {
	f := newTokenFixture(t)
	_, err := f.retriever.GetToken(context.Background(), f.reg, "openid", scoreScope)
	require.NoError(t, err)
	assert.Equal(t, "openid "+scoreScope, f.forms[0].Get("scope"))
}

func TestGetTokenNoScopes(t *testing.T) {
	f := newTokenFixture(t)
	_, err := f.retriever.GetToken(context.Background(), f.reg)
	assert.ErrorIs(t, err, token.ErrNoScopes)
	assert.Empty(t, f.forms, "no request without scopes")
}

func TestGetTokenEndpointError(t *testing.T) {
	f := newTokenFixture(t)
	f.status = http.StatusBadRequest
	f.body = `{"error":"invalid_scope","error_description":"scope not granted"}`

	_, err := f.retriever.GetToken(context.Background(), f.reg, scoreScope)
	var epErr *token.EndpointError
	require.ErrorAs(t, err, &epErr)
	assert.Equal(t, http.StatusBadRequest, epErr.StatusCode)
	assert.Equal(t, "invalid_scope", epErr.Code)
	assert.Equal(t, "scope not granted", epErr.Description)
}

func TestGetTokenAssertionLifetimeOverride(t *testing.T) {
	f := newTokenFixture(t)
	f.retriever.SetAssertionLifetime(5 * time.Minute)
	_, err := f.retriever.GetToken(context.Background(), f.reg, scoreScope)
	require.NoError(t, err)

	tok := f.parseAssertion(t, f.forms[0])
	assert.Equal(t, 5*time.Minute, tok.Expiration().Sub(tok.IssuedAt()))
}

func TestGetTokenKeyWithKeyID(t *testing.T) {
	// A JWKS built from the same service must verify the assertion.
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySvc, err := keys.NewSingleKeyService(priv, "tool-key-2")
	require.NoError(t, err)
	set, err := keySvc.JWKS()
	require.NoError(t, err)
	_, ok := set.LookupKeyID("tool-key-2")
	assert.True(t, ok, "published JWKS must carry the signing kid")

	pub, ok := set.Key(0)
	require.True(t, ok)
	assert.Equal(t, "RS256", pub.Algorithm().String())
}

package launch_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/edulaunch/ltiauth/pkg/lti"
	"github.com/edulaunch/ltiauth/pkg/repositories/registration"
)

// fakeRepo is an in-memory registration.Repository for tests.
type fakeRepo struct {
	regs   map[string]*registration.ClientRegistration
	nextID int64
}

func newFakeRepo(regs ...*registration.ClientRegistration) *fakeRepo {
	f := &fakeRepo{regs: map[string]*registration.ClientRegistration{}}
	for _, reg := range regs {
		f.nextID++
		reg.ID = f.nextID
		f.regs[reg.RegistrationID] = reg
	}
	return f
}

func (f *fakeRepo) Health() error { return nil }
func (f *fakeRepo) Disconnect()   {}

func (f *fakeRepo) Register(_ context.Context, reg *registration.ClientRegistration) (int64, error) {
	f.nextID++
	reg.ID = f.nextID
	f.regs[reg.RegistrationID] = reg
	return reg.ID, nil
}

func (f *fakeRepo) List(_ context.Context) ([]*registration.ClientRegistration, error) {
	var out []*registration.ClientRegistration
	for _, reg := range f.regs {
		out = append(out, reg)
	}
	return out, nil
}

func (f *fakeRepo) FindByRegistrationID(_ context.Context, registrationID string) (*registration.ClientRegistration, error) {
	return f.regs[registrationID], nil
}

func (f *fakeRepo) DeleteByID(_ context.Context, id int64) error {
	for k, reg := range f.regs {
		if reg.ID == id {
			delete(f.regs, k)
		}
	}
	return nil
}

func testRegistration() *registration.ClientRegistration {
	return &registration.ClientRegistration{
		RegistrationID:   "moodle-1",
		ClientID:         "client-1",
		Issuer:           "https://platform.test",
		AuthorizationURI: "https://platform.test/auth",
		TokenURI:         "https://platform.test/token",
		Scopes:           []string{"openid", "https://purl.imsglobal.org/spec/lti-ags/scope/score"},
		GrantType:        registration.GrantTypeImplicit,
	}
}

// initiationRequest builds a form POST the way a platform opens the
// initiation endpoint.
func initiationRequest(params url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "https://tool.test/lti/login_initiation/moodle-1",
		strings.NewReader(params.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func validInitiationParams() url.Values {
	return url.Values{
		"iss":             {"https://platform.test"},
		"login_hint":      {"user-123"},
		"target_link_uri": {"https://tool.test/deep/resource"},
	}
}

// platformKeys generates the platform's signing key and serves its public
// half over a JWKS endpoint.
func platformKeys(t *testing.T) (*rsa.PrivateKey, *httptest.Server) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "platform-key-1"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	require.NoError(t, pub.Set(jwk.KeyUsageKey, "sig"))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	body, err := json.Marshal(set)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return priv, srv
}

// idTokenClaims returns a complete, valid claim set for the registration.
func idTokenClaims(reg *registration.ClientRegistration, nonce string) map[string]any {
	now := time.Now()
	return map[string]any{
		jwt.IssuerKey:         reg.Issuer,
		jwt.AudienceKey:       reg.ClientID,
		jwt.SubjectKey:        "user-123",
		jwt.IssuedAtKey:       now,
		jwt.ExpirationKey:     now.Add(5 * time.Minute),
		"nonce":               nonce,
		lti.ClaimVersion:      lti.Version,
		lti.ClaimMessageType:  lti.MessageTypeResourceLink,
		lti.ClaimDeploymentID: "deployment-1",
		lti.ClaimTargetLinkURI: "https://tool.test/deep/resource",
		lti.ClaimRoles: []string{
			"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner",
		},
	}
}

func signIDToken(t *testing.T, priv *rsa.PrivateKey, kid string, claims map[string]any) string {
	t.Helper()
	b := jwt.NewBuilder()
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	require.NoError(t, err)

	key, err := jwk.FromRaw(priv)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

// completionRequest builds the form_post the platform sends back with the
// id_token and state.
func completionRequest(state, idToken string) *http.Request {
	form := url.Values{"state": {state}}
	if idToken != "" {
		form.Set("id_token", idToken)
	}
	r := httptest.NewRequest(http.MethodPost, "https://tool.test/lti/login",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

package launch_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulaunch/ltiauth/pkg/launch"
	"github.com/edulaunch/ltiauth/pkg/repositories/registration"
)

func TestResolveBuildsAuthorizationRequest(t *testing.T) {
	reg := testRegistration()
	rs := launch.NewResolver(newFakeRepo(reg))

	params := validInitiationParams()
	params.Set("lti_message_hint", "hint-42")
	req, err := rs.Resolve(initiationRequest(params), "moodle-1")
	require.NoError(t, err)

	assert.Equal(t, reg.ClientID, req.ClientID)
	assert.Equal(t, reg.AuthorizationURI, req.AuthorizationURI)
	assert.Equal(t, reg.Scopes, req.Scopes)
	assert.Equal(t, "moodle-1", req.RegistrationID)
	assert.Equal(t, "https://tool.test/lti/login", req.RedirectURI)

	assert.NotEmpty(t, req.State)
	assert.NotContains(t, req.State, "=")
	assert.NotEmpty(t, req.Nonce)
	assert.NotEmpty(t, req.Attribute(launch.AttrRemoteIP))

	assert.Equal(t, "id_token", req.AdditionalParameters["response_type"])
	assert.Equal(t, "form_post", req.AdditionalParameters["response_mode"])
	assert.Equal(t, "none", req.AdditionalParameters["prompt"])
	assert.Equal(t, "user-123", req.AdditionalParameters["login_hint"])
	assert.Equal(t, "hint-42", req.AdditionalParameters["lti_message_hint"])
}

func TestResolveStatesAreUnique(t *testing.T) {
	rs := launch.NewResolver(newFakeRepo(testRegistration()))
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		req, err := rs.Resolve(initiationRequest(validInitiationParams()), "moodle-1")
		require.NoError(t, err)
		assert.False(t, seen[req.State], "state values must never repeat")
		seen[req.State] = true
	}
}

func TestResolveAuthorizationRequestURI(t *testing.T) {
	rs := launch.NewResolver(newFakeRepo(testRegistration()))
	req, err := rs.Resolve(initiationRequest(validInitiationParams()), "moodle-1")
	require.NoError(t, err)

	u, err := url.Parse(req.AuthorizationRequestURI())
	require.NoError(t, err)
	assert.Equal(t, "platform.test", u.Host)
	assert.Equal(t, "/auth", u.Path)
	q := u.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, req.State, q.Get("state"))
	assert.Equal(t, req.Nonce, q.Get("nonce"))
	assert.Equal(t, "https://tool.test/lti/login", q.Get("redirect_uri"))
	assert.Equal(t, "id_token", q.Get("response_type"))
	assert.Equal(t, "form_post", q.Get("response_mode"))
	assert.Equal(t, strings.Join(testRegistration().Scopes, " "), q.Get("scope"))
}

func TestResolveMissingParameters(t *testing.T) {
	rs := launch.NewResolver(newFakeRepo(testRegistration()))
	for _, missing := range []string{"iss", "login_hint", "target_link_uri"} {
		params := validInitiationParams()
		params.Del(missing)
		_, err := rs.Resolve(initiationRequest(params), "moodle-1")
		require.Error(t, err)

		var initErr *launch.InitiationError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, missing, initErr.Param, "the error must name the offending parameter")
		assert.Equal(t, "invalid_initiation_request", launch.ErrorCode(err))
	}
}

func TestResolveUnknownRegistration(t *testing.T) {
	rs := launch.NewResolver(newFakeRepo(testRegistration()))
	_, err := rs.Resolve(initiationRequest(validInitiationParams()), "nope")
	var unknown *launch.UnknownRegistrationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.RegistrationID)
	assert.Equal(t, "unknown_registration", launch.ErrorCode(err))
}

func TestResolveClientIDMismatch(t *testing.T) {
	rs := launch.NewResolver(newFakeRepo(testRegistration()))
	params := validInitiationParams()
	params.Set("client_id", "someone-else")
	_, err := rs.Resolve(initiationRequest(params), "moodle-1")
	var initErr *launch.InitiationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "client_id", initErr.Param)

	// A matching client_id is accepted.
	params.Set("client_id", "client-1")
	_, err = rs.Resolve(initiationRequest(params), "moodle-1")
	assert.NoError(t, err)
}

func TestResolveRejectsNonImplicitGrant(t *testing.T) {
	reg := testRegistration()
	reg.GrantType = "client_credentials"
	rs := launch.NewResolver(newFakeRepo(reg))
	_, err := rs.Resolve(initiationRequest(validInitiationParams()), "moodle-1")
	var grantErr *launch.GrantTypeError
	require.ErrorAs(t, err, &grantErr)
	assert.Equal(t, "misconfigured_grant_type", launch.ErrorCode(err))
}

func TestResolveRedirectURITemplate(t *testing.T) {
	reg := testRegistration()
	reg.RedirectURITemplate = "{baseUrl}/lti/{action}/{registrationId}"
	rs := launch.NewResolver(newFakeRepo(reg))
	req, err := rs.Resolve(initiationRequest(validInitiationParams()), "moodle-1")
	require.NoError(t, err)
	assert.Equal(t, "https://tool.test/lti/login/moodle-1", req.RedirectURI)
}

func TestResolveSchemeFromForwardedProto(t *testing.T) {
	rs := launch.NewResolver(newFakeRepo(testRegistration()))
	r := initiationRequest(validInitiationParams())
	r.TLS = nil
	r.Header.Set("X-Forwarded-Proto", "https")
	req, err := rs.Resolve(r, "moodle-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(req.RedirectURI, "https://"))
}

var _ registration.Repository = (*fakeRepo)(nil)

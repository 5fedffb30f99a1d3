package launch

import (
	"crypto/rand"
	"encoding/base64"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/edulaunch/ltiauth/pkg/repositories/registration"
)

// DefaultRedirectURITemplate is used when a registration does not configure
// its own callback template.
const DefaultRedirectURITemplate = "{baseUrl}/lti/{action}"

// Resolver turns an untrusted platform-initiated login request (step 1 of
// the IMS third-party initiated login) into a signed, stateful
// authorization request.
type Resolver struct {
	registrations registration.Repository
	// action fills the {action} placeholder of the redirect URI template.
	action string
}

func NewResolver(registrations registration.Repository) *Resolver {
	return &Resolver{registrations: registrations, action: "login"}
}

// Resolve validates the initiation parameters and assembles the
// authorization request that will be stored and then delivered to the
// platform's authorization endpoint.
func (rs *Resolver) Resolve(r *http.Request, registrationID string) (*AuthorizationRequest, error) {
	reg, err := rs.registrations.FindByRegistrationID(r.Context(), registrationID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, &UnknownRegistrationError{RegistrationID: registrationID}
	}
	// The launch is an implicit grant on the wire; anything else is a
	// registration misconfiguration.
	if reg.GrantType != registration.GrantTypeImplicit {
		return nil, &GrantTypeError{RegistrationID: registrationID, GrantType: reg.GrantType}
	}

	iss := r.FormValue("iss")
	if iss == "" {
		return nil, &InitiationError{Param: "iss", Reason: "was not supplied"}
	}
	loginHint := r.FormValue("login_hint")
	if loginHint == "" {
		return nil, &InitiationError{Param: "login_hint", Reason: "was not supplied"}
	}
	if r.FormValue("target_link_uri") == "" {
		return nil, &InitiationError{Param: "target_link_uri", Reason: "was not supplied"}
	}
	// client_id is optional, but when supplied it must match.
	if clientID := r.FormValue("client_id"); clientID != "" && clientID != reg.ClientID {
		return nil, &InitiationError{Param: "client_id", Reason: "does not match the configured registration"}
	}

	state, err := newState()
	if err != nil {
		return nil, err
	}

	additional := map[string]string{
		// OIDC allows "id_token token" or "id_token"; in LTI the id_token
		// is also the access token.
		"response_type": "id_token",
		"response_mode": "form_post",
		"prompt":        "none",
		"login_hint":    loginHint,
	}
	if hint := r.FormValue("lti_message_hint"); hint != "" {
		additional["lti_message_hint"] = hint
	}

	return &AuthorizationRequest{
		State:                state,
		Nonce:                uuid.NewString(),
		ClientID:             reg.ClientID,
		AuthorizationURI:     reg.AuthorizationURI,
		RedirectURI:          rs.expandRedirectURI(r, reg),
		Scopes:               reg.Scopes,
		RegistrationID:       reg.RegistrationID,
		AdditionalParameters: additional,
		Attributes: map[string]string{
			// Lets the store check that the first and last requests of the
			// login came from the same address.
			AttrRemoteIP: requestIP(r),
		},
	}, nil
}

// expandRedirectURI substitutes {baseUrl}, {action} and {registrationId}
// in the registration's callback template.
func (rs *Resolver) expandRedirectURI(r *http.Request, reg *registration.ClientRegistration) string {
	template := reg.RedirectURITemplate
	if template == "" {
		template = DefaultRedirectURITemplate
	}
	return strings.NewReplacer(
		"{baseUrl}", baseURL(r),
		"{action}", rs.action,
		"{registrationId}", reg.RegistrationID,
	).Replace(template)
}

func baseURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}

func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// newState generates the opaque random state token. Raw URL encoding only:
// the IMS validator rejects '=' in state values.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

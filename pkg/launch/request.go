package launch

import (
	"net/url"
	"strings"
)

// Attribute keys for side-channel data carried on an AuthorizationRequest
// but never sent to the platform.
const (
	// AttrRemoteIP records the caller's address at initiation time so the
	// first and last requests of a login can be checked against each other.
	AttrRemoteIP = "remote_ip"
)

// AuthorizationRequest is the server's record of one launch attempt. It is
// created by the initiation resolver, persisted by a RequestStore and
// consumed exactly once when the platform posts back the id_token.
type AuthorizationRequest struct {
	// State is the opaque random token used to correlate the return leg
	// with this request. Unique within the store's lookup horizon.
	State string
	// Nonce is echoed back inside the id_token to deter replay.
	Nonce string

	ClientID         string
	AuthorizationURI string
	RedirectURI      string
	Scopes           []string
	RegistrationID   string

	// AdditionalParameters are extra query parameters sent to the platform
	// (response_type, response_mode, login_hint, lti_message_hint, ...).
	AdditionalParameters map[string]string
	// Attributes is side-channel data kept with the request but not sent.
	Attributes map[string]string
}

// AuthorizationRequestURI assembles the full URL of the platform's
// authorization endpoint including all launch parameters.
func (a *AuthorizationRequest) AuthorizationRequestURI() string {
	u, err := url.Parse(a.AuthorizationURI)
	if err != nil {
		return a.AuthorizationURI
	}
	q := u.Query()
	q.Set("client_id", a.ClientID)
	q.Set("redirect_uri", a.RedirectURI)
	q.Set("state", a.State)
	q.Set("nonce", a.Nonce)
	if len(a.Scopes) > 0 {
		q.Set("scope", strings.Join(a.Scopes, " "))
	}
	for k, v := range a.AdditionalParameters {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Attribute returns a side-channel attribute value, or "" when unset.
func (a *AuthorizationRequest) Attribute(key string) string {
	if a.Attributes == nil {
		return ""
	}
	return a.Attributes[key]
}

package launch

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/edulaunch/ltiauth/pkg/common/jwkscache"
	"github.com/edulaunch/ltiauth/pkg/common/logger"
	"github.com/edulaunch/ltiauth/pkg/lti"
	"github.com/edulaunch/ltiauth/pkg/repositories/registration"
)

// Principal is the authenticated identity established by a completed
// launch. Only platform-signed data ends up here.
type Principal struct {
	// Subject identifies the launching user. Anonymous launches are legal;
	// a synthetic subject is generated for them.
	Subject   string
	Anonymous bool
	// Claims are the verified id_token claims.
	Claims map[string]any
	// State is the consumed state value of the matched request.
	State          string
	RegistrationID string
	// TargetLinkURI comes exclusively from the verified token's
	// target-link-uri claim, never from the unauthenticated initiation
	// parameters. Empty for message types that don't carry one.
	TargetLinkURI string
	// Grants are produced by the configured GrantMapper.
	Grants []string
}

// Authenticator validates the platform's authentication response (step 3
// of the IMS third-party initiated login) against the stored authorization
// request and establishes a Principal.
type Authenticator struct {
	store         RequestStore
	registrations registration.Repository
	platformKeys  jwkscache.Cache
	clockSkew     time.Duration
	grantMapper   GrantMapper
}

func NewAuthenticator(store RequestStore, registrations registration.Repository, platformKeys jwkscache.Cache) *Authenticator {
	return &Authenticator{
		store:         store,
		registrations: registrations,
		platformKeys:  platformKeys,
		clockSkew:     30 * time.Second,
		grantMapper:   DefaultGrantMapper,
	}
}

// SetGrantMapper replaces the claims-to-grants hook.
func (a *Authenticator) SetGrantMapper(m GrantMapper) {
	if m != nil {
		a.grantMapper = m
	}
}

// Authenticate matches the returned id_token and state against the stored
// request. The stored request is consumed only after the token fully
// validates, so a failed or cancelled attempt leaves the slot intact and
// the user can retry; of two racing valid completions exactly one wins.
func (a *Authenticator) Authenticate(w http.ResponseWriter, r *http.Request) (*Principal, error) {
	state := r.FormValue("state")
	if state == "" {
		return nil, ErrInvalidState
	}
	idToken := r.FormValue("id_token")
	if idToken == "" {
		return nil, &TokenError{Err: errors.New("missing id_token parameter")}
	}

	stored, err := a.store.Load(r)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrInvalidState
	}

	reg, err := a.registrations.FindByRegistrationID(r.Context(), stored.RegistrationID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, &UnknownRegistrationError{RegistrationID: stored.RegistrationID}
	}

	keySet, err := a.platformKeys.Get(r.Context(), reg.KeySetURL)
	if err != nil {
		return nil, fmt.Errorf("fetch platform keys: %w", err)
	}
	tok, err := jwt.ParseString(idToken,
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(a.clockSkew),
	)
	if err != nil {
		return nil, &TokenError{Err: err}
	}
	if err := a.validateClaims(tok, reg, stored); err != nil {
		return nil, err
	}

	// An aborted inbound request must not burn the slot.
	if err := r.Context().Err(); err != nil {
		return nil, err
	}

	consumed, err := a.store.Remove(w, r)
	if err != nil {
		return nil, err
	}
	if consumed == nil || consumed.State != stored.State {
		// Someone else won the race for this state.
		return nil, ErrInvalidState
	}

	claims, err := tok.AsMap(r.Context())
	if err != nil {
		return nil, &TokenError{Err: err}
	}
	subject := tok.Subject()
	anonymous := subject == ""
	if anonymous {
		subject = anonymousSubject()
		logger.Debug("launch for registration %s has no subject, treating as anonymous", reg.RegistrationID)
	}
	targetLink, _ := claims[lti.ClaimTargetLinkURI].(string)

	p := &Principal{
		Subject:        subject,
		Anonymous:      anonymous,
		Claims:         claims,
		State:          consumed.State,
		RegistrationID: reg.RegistrationID,
		TargetLinkURI:  targetLink,
	}
	p.Grants = a.grantMapper(p)
	return p, nil
}

func (a *Authenticator) validateClaims(tok jwt.Token, reg *registration.ClientRegistration, stored *AuthorizationRequest) error {
	if iss := tok.Issuer(); iss != reg.Issuer {
		return &ClaimError{Claim: "iss", Reason: fmt.Sprintf("%q does not match registration issuer %q", iss, reg.Issuer)}
	}
	if !containsAudience(tok.Audience(), reg.ClientID) {
		return &ClaimError{Claim: "aud", Reason: "does not contain the registration's client id"}
	}
	nonce, _ := tok.Get("nonce")
	if n, ok := nonce.(string); !ok || n == "" {
		return &ClaimError{Claim: "nonce", Reason: "is missing"}
	} else if n != stored.Nonce {
		return &ClaimError{Claim: "nonce", Reason: "does not match the stored request"}
	}
	if v, _ := tok.Get(lti.ClaimVersion); v != lti.Version {
		return &ClaimError{Claim: lti.ClaimVersion, Reason: "is missing or unsupported"}
	}
	if mt, _ := tok.Get(lti.ClaimMessageType); mt == nil || mt == "" {
		return &ClaimError{Claim: lti.ClaimMessageType, Reason: "is missing"}
	}
	if dep, _ := tok.Get(lti.ClaimDeploymentID); dep == nil || dep == "" {
		return &ClaimError{Claim: lti.ClaimDeploymentID, Reason: "is missing"}
	}
	return nil
}

func containsAudience(aud []string, clientID string) bool {
	for _, a := range aud {
		if a == clientID {
			return true
		}
	}
	return false
}

func anonymousSubject() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "anonymous-" + base64.RawURLEncoding.EncodeToString(b)
}

package launch

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when no stored authorization request matches
// the returned state: it expired, was already consumed, or (with IP
// pinning) came back from a different address.
var ErrInvalidState = errors.New("no stored authorization request matches the returned state")

// UnknownRegistrationError is returned when the registration id derived
// from the request path has no matching client registration.
type UnknownRegistrationError struct {
	RegistrationID string
}

func (e *UnknownRegistrationError) Error() string {
	return fmt.Sprintf("no client registration found with id: %s", e.RegistrationID)
}

// InitiationError is returned when a login initiation request is missing a
// required parameter or carries an inconsistent one.
type InitiationError struct {
	Param  string
	Reason string
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("invalid initiation request: parameter %s %s", e.Param, e.Reason)
}

// GrantTypeError indicates a registration configured with a grant type the
// launch flow cannot perform. This is an operator error, not a client one.
type GrantTypeError struct {
	RegistrationID string
	GrantType      string
}

func (e *GrantTypeError) Error() string {
	return fmt.Sprintf("invalid authorization grant type (%s) for client registration with id: %s", e.GrantType, e.RegistrationID)
}

// TokenError wraps a failure to parse the returned id_token or to verify
// its signature against the platform's published keys.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string { return "invalid id_token: " + e.Err.Error() }
func (e *TokenError) Unwrap() error { return e.Err }

// ClaimError is returned when a verified id_token carries claims that are
// missing or inconsistent with the stored request or the registration.
type ClaimError struct {
	Claim  string
	Reason string
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("claim validation failed: %s %s", e.Claim, e.Reason)
}

// ErrorCode maps a launch flow error to a stable machine-readable code for
// the HTTP surface. Unrecognised errors map to "server_error".
func ErrorCode(err error) string {
	var (
		unknownReg *UnknownRegistrationError
		initErr    *InitiationError
		grantErr   *GrantTypeError
		tokenErr   *TokenError
		claimErr   *ClaimError
	)
	switch {
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.As(err, &unknownReg):
		return "unknown_registration"
	case errors.As(err, &initErr):
		return "invalid_initiation_request"
	case errors.As(err, &grantErr):
		return "misconfigured_grant_type"
	case errors.As(err, &tokenErr):
		return "invalid_token"
	case errors.As(err, &claimErr):
		return "claim_validation_failed"
	}
	return "server_error"
}

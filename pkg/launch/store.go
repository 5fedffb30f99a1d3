package launch

import "net/http"

// RequestStore persists in-flight authorization requests between the
// initiation leg and the completion leg of a launch.
//
// Load and Remove locate the request via the inbound HTTP request (the
// returned state parameter and/or the caller's session cookie). Remove is
// the single irreversible operation in the flow: implementations must make
// it atomic per state so that of two racing completions at most one
// receives the stored request.
type RequestStore interface {
	// Load returns the matching in-flight request without consuming it,
	// or nil when nothing matches (expired, consumed or never stored).
	Load(r *http.Request) (*AuthorizationRequest, error)
	// Save persists the request for a later completion.
	Save(req *AuthorizationRequest, w http.ResponseWriter, r *http.Request) error
	// Remove consumes and returns the matching request, or nil.
	Remove(w http.ResponseWriter, r *http.Request) (*AuthorizationRequest, error)
}

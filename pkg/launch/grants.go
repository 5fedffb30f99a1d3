package launch

import "github.com/edulaunch/ltiauth/pkg/lti"

// GrantMapper turns a verified principal's claims into authorization
// grants. The flow itself makes no authorization decisions; the grants are
// attached to the principal for downstream code.
type GrantMapper func(*Principal) []string

// DefaultGrantMapper maps the LTI roles claim straight through.
func DefaultGrantMapper(p *Principal) []string {
	roles, ok := p.Claims[lti.ClaimRoles].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if s, ok := r.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

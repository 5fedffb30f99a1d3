package registration

import (
	"context"
	"time"
)

// GrantTypeImplicit is the grant type every launchable registration must
// carry. The wire protocol is an implicit flow (the return trip carries the
// id_token directly) even though the rest of the code models it as an
// authorization-code exchange.
const GrantTypeImplicit = "implicit"

// ClientRegistration identifies one platform the tool is registered with.
// Owned by configuration; read-only to the launch flow.
type ClientRegistration struct {
	ID               int64  `json:"id"`
	RegistrationID   string `json:"registration_id"`
	ClientID         string `json:"client_id"`
	Issuer           string `json:"issuer"`
	AuthorizationURI string `json:"authorization_uri"`
	TokenURI         string `json:"token_uri"`
	KeySetURL        string `json:"key_set_url"`
	// RedirectURITemplate supports {baseUrl}, {action} and {registrationId}
	// placeholders, e.g. "{baseUrl}/lti/{action}".
	RedirectURITemplate string    `json:"redirect_uri_template"`
	Scopes              []string  `json:"scopes"`
	GrantType           string    `json:"grant_type"`
	CreatedAt           time.Time `json:"created_at"`
}

// Repository defines storage operations for client registrations.
type Repository interface {
	// Health is a simple check to verify repository works.
	Health() error
	// Disconnect gracefully closes resources. Should be safe to call on shutdown.
	Disconnect()
	// Register inserts a new client registration and returns its ID.
	Register(ctx context.Context, reg *ClientRegistration) (int64, error)
	// List returns all registrations.
	List(ctx context.Context) ([]*ClientRegistration, error)
	// FindByRegistrationID returns a registration by its registration_id,
	// or nil when none exists.
	FindByRegistrationID(ctx context.Context, registrationID string) (*ClientRegistration, error)
	// DeleteByID deletes a registration by its numeric ID.
	DeleteByID(ctx context.Context, id int64) error
}

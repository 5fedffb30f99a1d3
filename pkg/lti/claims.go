// Package lti holds the IMS LTI 1.3 claim and parameter names the launch
// flow reads and writes.
package lti

// Claim URIs from the IMS LTI 1.3 core specification.
const (
	ClaimMessageType   = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion       = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeploymentID  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTargetLinkURI = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimRoles         = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimContext       = "https://purl.imsglobal.org/spec/lti/claim/context"
	ClaimResourceLink  = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
)

// Version is the LTI version the flow accepts.
const Version = "1.3.0"

// Message types that arrive through the launch flow.
const (
	MessageTypeResourceLink = "LtiResourceLinkRequest"
	MessageTypeDeepLinking  = "LtiDeepLinkingRequest"
)

// ClientAssertionType identifies a signed-JWT client assertion in a
// client-credentials grant (RFC 7523).
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Package credentials resolves caller-supplied login modes into the
// normalized connection parameters consumed by the agent-client
// constructor. Exactly one login mode may be set per request; each mode
// has its own resolver and the chosen mode fixes the AuthMode of the
// resulting session for its lifetime.
package credentials

import "errors"

// AuthMode identifies how the agent client authenticates against the
// model backend.
type AuthMode string

const (
	// AuthOAuth authenticates with a platform OAuth access token.
	AuthOAuth AuthMode = "oauth"
	// AuthAPIKey authenticates with a caller-supplied API key.
	AuthAPIKey AuthMode = "api-key"
	// AuthServiceKey authenticates with the platform's own service key.
	AuthServiceKey AuthMode = "service-key"
)

// Credentials is a tagged union over the supported login modes.
// Exactly one field must be non-nil.
type Credentials struct {
	PlatformOAuth *PlatformOAuth     `json:"platform_oauth,omitempty"`
	UserKey       *UserKey           `json:"user_key,omitempty"`
	Default       *DefaultServiceKey `json:"default,omitempty"`
}

// PlatformOAuth carries tokens issued by the platform's OAuth flow.
type PlatformOAuth struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// UserKey carries a bring-your-own API key with its endpoint and model.
type UserKey struct {
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint,omitempty"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// DefaultServiceKey selects the platform's configured service key.
type DefaultServiceKey struct{}

// Resolved is the concrete connection parameter set produced by the
// resolver and consumed by the agent-client factory.
type Resolved struct {
	Endpoint string
	APIKey   string
	Model    string
	Provider string
	AuthMode AuthMode
}

var (
	// ErrNoMode is returned when no login mode is set.
	ErrNoMode = errors.New("no login mode supplied")

	// ErrAmbiguousMode is returned when more than one login mode is set.
	ErrAmbiguousMode = errors.New("more than one login mode supplied")

	// ErrMissingAPIKey is returned when a mode resolves without an API key.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrMissingEndpoint is returned when a mode resolves without an endpoint.
	ErrMissingEndpoint = errors.New("missing endpoint")

	// ErrMissingAccessToken is returned for an OAuth mode without a token.
	ErrMissingAccessToken = errors.New("missing OAuth access token")
)

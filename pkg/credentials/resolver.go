package credentials

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harun/tiller/internal/config"
)

// Resolver turns a Credentials union into a Resolved parameter set,
// falling back to platform configuration and the OAuth token store for
// the modes that need them.
type Resolver struct {
	cfg   config.CredentialsConfig
	store *TokenStore
}

// NewResolver builds a resolver backed by the platform credential
// configuration. The token store may be nil when the OAuth mode is not
// served by this deployment.
func NewResolver(cfg config.CredentialsConfig, store *TokenStore) *Resolver {
	return &Resolver{cfg: cfg, store: store}
}

// Resolve selects the single login mode set on creds and dispatches to
// its resolver. Ambiguous or empty unions are rejected before any mode
// logic runs.
func (r *Resolver) Resolve(creds Credentials) (Resolved, error) {
	modes := 0
	if creds.PlatformOAuth != nil {
		modes++
	}
	if creds.UserKey != nil {
		modes++
	}
	if creds.Default != nil {
		modes++
	}
	switch {
	case modes == 0:
		return Resolved{}, ErrNoMode
	case modes > 1:
		return Resolved{}, ErrAmbiguousMode
	}

	switch {
	case creds.PlatformOAuth != nil:
		return r.resolveOAuth(creds.PlatformOAuth)
	case creds.UserKey != nil:
		return r.resolveUserKey(creds.UserKey)
	default:
		return r.resolveDefault()
	}
}

func (r *Resolver) resolveOAuth(m *PlatformOAuth) (Resolved, error) {
	token := m.AccessToken
	if token != "" && r.store != nil {
		// Supplied tokens are written through to the credential file
		// before first use so later sessions can resolve without one.
		if err := r.store.Save(Token{AccessToken: m.AccessToken, RefreshToken: m.RefreshToken}); err != nil {
			return Resolved{}, fmt.Errorf("persist oauth token: %w", err)
		}
	}
	if token == "" && r.store != nil {
		if cur := r.store.Current(); cur != nil {
			token = cur.AccessToken
		}
	}
	if token == "" {
		return Resolved{}, ErrMissingAccessToken
	}
	endpoint, err := normalizeEndpoint(r.cfg.Endpoint)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve oauth endpoint: %w", err)
	}
	return Resolved{
		Endpoint: endpoint,
		APIKey:   token,
		Model:    r.cfg.Model,
		Provider: r.cfg.Provider,
		AuthMode: AuthOAuth,
	}, nil
}

func (r *Resolver) resolveUserKey(m *UserKey) (Resolved, error) {
	if m.APIKey == "" {
		return Resolved{}, ErrMissingAPIKey
	}
	raw := m.Endpoint
	if raw == "" {
		raw = r.cfg.Endpoint
	}
	endpoint, err := normalizeEndpoint(raw)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve user endpoint: %w", err)
	}
	model := m.Model
	if model == "" {
		model = r.cfg.Model
	}
	provider := m.Provider
	if provider == "" {
		provider = r.cfg.Provider
	}
	return Resolved{
		Endpoint: endpoint,
		APIKey:   m.APIKey,
		Model:    model,
		Provider: provider,
		AuthMode: AuthAPIKey,
	}, nil
}

func (r *Resolver) resolveDefault() (Resolved, error) {
	if r.cfg.APIKey == "" {
		return Resolved{}, fmt.Errorf("platform service key: %w", ErrMissingAPIKey)
	}
	endpoint, err := normalizeEndpoint(r.cfg.Endpoint)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve default endpoint: %w", err)
	}
	return Resolved{
		Endpoint: endpoint,
		APIKey:   r.cfg.APIKey,
		Model:    r.cfg.Model,
		Provider: r.cfg.Provider,
		AuthMode: AuthServiceKey,
	}, nil
}

// normalizeEndpoint fills in the scheme and API version segment that
// backends expect but callers routinely omit. An empty endpoint is an
// error at resolution time rather than connect time.
func normalizeEndpoint(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingEndpoint
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host: %w", raw, ErrMissingEndpoint)
	}
	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	u.Path = path
	return u.String(), nil
}

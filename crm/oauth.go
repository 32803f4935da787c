package crm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"leadsync/config"
)

// TokenExpiryBuffer is subtracted from the provider-reported expiry before
// storing it, so refresh is triggered before the provider actually
// invalidates the token.
const TokenExpiryBuffer = 5 * time.Minute

var (
	ErrProviderNotConfigured = errors.New("provider is not configured")
	ErrInvalidState          = errors.New("invalid or expired state")
)

// Endpoints describes one provider's OAuth2 surface.
type Endpoints struct {
	AuthURL    string
	TokenURL   string
	RevokeURL  string
	Scopes     []string
	AuthParams map[string]string // extra authorization URL parameters
}

// DefaultEndpoints returns the production OAuth endpoints for every
// supported provider.
func DefaultEndpoints() map[Provider]Endpoints {
	return map[Provider]Endpoints{
		ProviderZoho: {
			AuthURL:   "https://accounts.zoho.com/oauth/v2/auth",
			TokenURL:  "https://accounts.zoho.com/oauth/v2/token",
			RevokeURL: "https://accounts.zoho.com/oauth/v2/token/revoke",
			Scopes:    []string{"ZohoCRM.modules.ALL", "ZohoCRM.users.READ", "ZohoCRM.settings.READ"},
			// Zoho only issues a refresh token for offline access
			AuthParams: map[string]string{"access_type": "offline", "prompt": "consent"},
		},
		ProviderHubSpot: {
			AuthURL:  "https://app.hubspot.com/oauth/authorize",
			TokenURL: "https://api.hubapi.com/oauth/v1/token",
			Scopes:   []string{"crm.objects.contacts.read", "crm.objects.contacts.write", "oauth"},
		},
		ProviderSalesforce: {
			AuthURL:   "https://login.salesforce.com/services/oauth2/authorize",
			TokenURL:  "https://login.salesforce.com/services/oauth2/token",
			RevokeURL: "https://login.salesforce.com/services/oauth2/revoke",
			Scopes:    []string{"api", "refresh_token", "id"},
		},
		ProviderPipedrive: {
			AuthURL:  "https://oauth.pipedrive.com/oauth/authorize",
			TokenURL: "https://oauth.pipedrive.com/oauth/token",
			Scopes:   []string{"persons:full", "users:read"},
		},
		ProviderFreshworks: {
			AuthURL:  "https://accounts.freshworks.com/oauth/authorize",
			TokenURL: "https://accounts.freshworks.com/oauth/token",
			Scopes:   []string{"contacts"},
		},
		ProviderMonday: {
			AuthURL:  "https://auth.monday.com/oauth2/authorize",
			TokenURL: "https://auth.monday.com/oauth2/token",
			Scopes:   []string{"boards:read", "boards:write", "me:read"},
		},
		ProviderDynamics: {
			AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			// Scope is completed with the org resource at auth-URL time
			Scopes: []string{"offline_access"},
		},
	}
}

// TokenResult is the normalized outcome of a code exchange or refresh.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // already reduced by TokenExpiryBuffer
	Scope        string
	APIDomain    string // Zoho
	InstanceURL  string // Salesforce
}

// AuthURLResult is returned to the caller starting an authorization flow.
type AuthURLResult struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

// OAuthManager owns the OAuth2 credential lifecycle: authorization URLs,
// code exchange, refresh, and best-effort revocation.
type OAuthManager struct {
	states    StateStore
	endpoints map[Provider]Endpoints
	http      *http.Client
	logger    *log.Logger
}

func NewOAuthManager(states StateStore, logger *log.Logger) *OAuthManager {
	return &OAuthManager{
		states:    states,
		endpoints: DefaultEndpoints(),
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
}

// oauthConfig assembles the x/oauth2 config for a provider, or fails when
// the provider is unsupported or has no credentials configured.
func (m *OAuthManager) oauthConfig(provider Provider) (*oauth2.Config, Endpoints, error) {
	ep, ok := m.endpoints[provider]
	if !ok {
		return nil, Endpoints{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	cfg, ok := config.AppConfig.Providers[string(provider)]
	if !ok || !cfg.Configured() {
		return nil, Endpoints{}, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}

	scopes := ep.Scopes
	if provider == ProviderDynamics && config.AppConfig.DynamicsResource != "" {
		scopes = append([]string{strings.TrimRight(config.AppConfig.DynamicsResource, "/") + "/.default"}, scopes...)
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  ep.AuthURL,
			TokenURL: ep.TokenURL,
		},
	}, ep, nil
}

// GenerateAuthURL issues a single-use state token bound to the company and
// provider and builds the provider's authorization URL.
func (m *OAuthManager) GenerateAuthURL(ctx context.Context, provider Provider, companyID uint) (*AuthURLResult, error) {
	oconf, ep, err := m.oauthConfig(provider)
	if err != nil {
		return nil, err
	}

	state := uuid.NewString()
	entry := StateEntry{CompanyID: companyID, Provider: provider, CreatedAt: time.Now()}
	if err := m.states.Put(ctx, state, entry); err != nil {
		return nil, fmt.Errorf("failed to store oauth state: %w", err)
	}

	opts := make([]oauth2.AuthCodeOption, 0, len(ep.AuthParams))
	for k, v := range ep.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	return &AuthURLResult{
		AuthURL: oconf.AuthCodeURL(state, opts...),
		State:   state,
	}, nil
}

// VerifyState consumes a state token and returns its entry. Replaying the
// same state, an expired state, or a provider mismatch all fail.
func (m *OAuthManager) VerifyState(ctx context.Context, provider Provider, state string) (*StateEntry, error) {
	entry, err := m.states.Take(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to verify oauth state: %w", err)
	}
	if entry == nil {
		return nil, ErrInvalidState
	}
	if time.Since(entry.CreatedAt) > StateTTL {
		return nil, ErrInvalidState
	}
	if entry.Provider != provider {
		return nil, fmt.Errorf("%w: state was issued for %s", ErrInvalidState, entry.Provider)
	}
	return entry, nil
}

// ExchangeCodeForToken verifies and consumes the state, then exchanges the
// authorization code at the provider's token endpoint. Any HTTP failure or
// a missing access token is fatal; no partial state is persisted.
func (m *OAuthManager) ExchangeCodeForToken(ctx context.Context, provider Provider, code, state string) (*StateEntry, *TokenResult, error) {
	entry, err := m.VerifyState(ctx, provider, state)
	if err != nil {
		return nil, nil, err
	}

	oconf, _, err := m.oauthConfig(provider)
	if err != nil {
		return nil, nil, err
	}

	tok, err := oconf.Exchange(httpClientContext(ctx, m.http), code)
	if err != nil {
		return nil, nil, fmt.Errorf("token exchange with %s failed: %w", provider, err)
	}
	if tok.AccessToken == "" {
		return nil, nil, fmt.Errorf("token exchange with %s returned no access token", provider)
	}

	return entry, normalizeToken(tok), nil
}

// RefreshAccessToken obtains a new access token. Providers that do not
// rotate refresh tokens leave RefreshToken set to the old value. Callers
// must flip the owning integration to status error when this fails.
func (m *OAuthManager) RefreshAccessToken(ctx context.Context, provider Provider, refreshToken string) (*TokenResult, error) {
	oconf, _, err := m.oauthConfig(provider)
	if err != nil {
		return nil, err
	}

	src := oconf.TokenSource(httpClientContext(ctx, m.http), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh with %s failed: %w", provider, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token refresh with %s returned no access token", provider)
	}

	result := normalizeToken(tok)
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	return result, nil
}

// RevokeToken is best-effort: disconnect must always succeed locally even
// if the provider is unreachable, so failures are logged and swallowed.
func (m *OAuthManager) RevokeToken(ctx context.Context, provider Provider, token string) {
	ep, ok := m.endpoints[provider]
	if !ok || ep.RevokeURL == "" || token == "" {
		return
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		m.logger.Printf("Failed to build revoke request for %s: %v", provider, err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(req)
	if err != nil {
		m.logger.Printf("Token revocation with %s failed: %v", provider, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Printf("Token revocation with %s returned status %d", provider, resp.StatusCode)
	}
}

// CalculateTokenExpiry converts a provider expires_in into the stored expiry
// timestamp, minus the safety buffer.
func CalculateTokenExpiry(expiresInSeconds int) time.Time {
	return time.Now().Add(time.Duration(expiresInSeconds)*time.Second - TokenExpiryBuffer)
}

// normalizeToken flattens an oauth2 token plus its provider-specific extras
// into the uniform result shape.
func normalizeToken(tok *oauth2.Token) *TokenResult {
	result := &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}

	if !tok.Expiry.IsZero() {
		result.ExpiresAt = tok.Expiry.Add(-TokenExpiryBuffer)
	} else {
		result.ExpiresAt = CalculateTokenExpiry(3600)
	}

	if v, ok := tok.Extra("scope").(string); ok {
		result.Scope = v
	}
	if v, ok := tok.Extra("api_domain").(string); ok {
		result.APIDomain = v
	}
	if v, ok := tok.Extra("instance_url").(string); ok {
		result.InstanceURL = v
	}
	return result
}

// httpClientContext routes x/oauth2's internal HTTP through our client so
// timeouts apply to token endpoints too.
func httpClientContext(ctx context.Context, c *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c)
}

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/tunegate/tunegate/storage"
)

// Compile-time check that Client implements the Provider interface.
var _ Provider = (*Client)(nil)

// DefaultRequestTimeout bounds every call to the provider's token endpoint
const DefaultRequestTimeout = 15 * time.Second

// Token-endpoint courtesy limiter defaults: steady trickle with headroom
// for a burst of concurrent logins.
const (
	defaultTokenEndpointRate  = rate.Limit(5)
	defaultTokenEndpointBurst = 10
)

// Config holds provider client configuration.
type Config struct {
	// Name identifies the provider in logs and errors (default "catalog")
	Name string

	// ClientID and ClientSecret are the registered application credentials
	// (both required)
	ClientID     string
	ClientSecret string

	// RedirectURL is the registered OAuth callback URL (required)
	RedirectURL string

	// AuthURL and TokenURL are the provider's authorization and token
	// endpoints (both required)
	AuthURL  string
	TokenURL string

	// Scopes are the access scopes requested at login
	Scopes []string

	// ShowDialog forces the consent screen even for returning users
	ShowDialog bool

	// HTTPClient is an optional custom HTTP client
	HTTPClient *http.Client

	// RequestTimeout bounds token-endpoint calls (default 15s)
	RequestTimeout time.Duration

	// TokenEndpointRate and TokenEndpointBurst tune the courtesy limiter
	// on outbound token-endpoint calls (defaults: 5/s, burst 10)
	TokenEndpointRate  rate.Limit
	TokenEndpointBurst int
}

// Client implements Provider against a standard OAuth 2.0 Authorization Code
// provider. Token-endpoint credentials are sent via HTTP Basic auth.
type Client struct {
	*oauth2.Config
	name           string
	showDialog     bool
	httpClient     *http.Client
	requestTimeout time.Duration

	// limiter throttles outbound token-endpoint calls
	limiter *rate.Limiter
}

// NewClient creates a provider client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("auth and token endpoint URLs are required")
	}

	name := cfg.Name
	if name == "" {
		name = "catalog"
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	limit := cfg.TokenEndpointRate
	if limit <= 0 {
		limit = defaultTokenEndpointRate
	}
	burst := cfg.TokenEndpointBurst
	if burst <= 0 {
		burst = defaultTokenEndpointBurst
	}

	scopes := make([]string, len(cfg.Scopes))
	copy(scopes, cfg.Scopes)

	return &Client{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
				// Client credentials go in the Authorization header
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		name:           name,
		showDialog:     cfg.ShowDialog,
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
		limiter:        rate.NewLimiter(limit, burst),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// AuthorizationURL builds the consent-screen redirect URL carrying state.
func (c *Client) AuthorizationURL(state string) string {
	var opts []oauth2.AuthCodeOption
	if c.showDialog {
		opts = append(opts, oauth2.SetAuthURLParam("show_dialog", "true"))
	}
	return c.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for a token record.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*storage.TokenRecord, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("token endpoint limiter: %w", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return c.toRecord(token), nil
}

// Refresh performs the refresh-token grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*storage.TokenRecord, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("token endpoint limiter: %w", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	return c.toRecord(token), nil
}

// HealthCheck verifies the provider's authorization endpoint is reachable.
// A HEAD request suffices: any HTTP response means the host answers; only
// transport-level failure is unhealthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.Endpoint.AuthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	return nil
}

// ensureContextTimeout ensures the context has a deadline, adding one if
// needed. If the context already has a deadline, returns the original
// context with a no-op cancel.
func (c *Client) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// toRecord converts an oauth2.Token into a storage record, deriving
// ExpiresAt from the provider's expires_in at this instant.
func (c *Client) toRecord(token *oauth2.Token) *storage.TokenRecord {
	now := time.Now()

	expiresIn := int64(0)
	if !token.Expiry.IsZero() {
		expiresIn = int64(token.Expiry.Sub(now).Round(time.Second).Seconds())
		if expiresIn < 0 {
			expiresIn = 0
		}
	}

	scope := ""
	if v := token.Extra("scope"); v != nil {
		if s, ok := v.(string); ok {
			scope = s
		}
	}

	return storage.NewTokenRecord(
		token.AccessToken,
		token.TokenType,
		expiresIn,
		token.RefreshToken,
		scope,
		now,
	)
}

// BuildAuthorizeParams exposes the raw query parameters of the authorization
// URL, useful for diagnostics and tests.
func (c *Client) BuildAuthorizeParams(state string) (url.Values, error) {
	u, err := url.Parse(c.AuthorizationURL(state))
	if err != nil {
		return nil, err
	}
	return u.Query(), nil
}

// ScopeString returns the requested scopes as a space-joined string, the
// form providers echo back in token responses.
func (c *Client) ScopeString() string {
	return strings.Join(c.Scopes, " ")
}

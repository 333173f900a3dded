// Package provider implements the OAuth 2.0 Authorization Code client for
// the music-catalog identity provider: building the consent redirect URL,
// exchanging authorization codes for tokens, and refreshing expired tokens.
//
// Outbound calls to the provider's token endpoint carry a bounded timeout
// and pass through a courtesy limiter, so a refresh storm cannot hammer the
// provider even before the caller-side coalescing kicks in.
package provider

import (
	"context"

	"github.com/tunegate/tunegate/storage"
)

// Provider is the contract the delegation core needs from an identity
// provider.
type Provider interface {
	// Name returns the provider name (e.g., "spotify")
	Name() string

	// AuthorizationURL builds the consent-screen redirect URL carrying the
	// given CSRF state token
	AuthorizationURL(state string) string

	// ExchangeCode exchanges an authorization code for a token record.
	// The record's ExpiresAt is derived at exchange time.
	ExchangeCode(ctx context.Context, code string) (*storage.TokenRecord, error)

	// Refresh performs the refresh-token grant. The returned record is NOT
	// merged with the prior one; callers apply TokenRecord.Merge so a
	// provider that omits the refresh token does not lose it.
	Refresh(ctx context.Context, refreshToken string) (*storage.TokenRecord, error)

	// HealthCheck verifies that the provider's endpoints are reachable.
	// Returns nil if healthy.
	HealthCheck(ctx context.Context) error
}

package storage

import (
	"time"

	"github.com/tunegate/tunegate/security"
)

// TokenRecord is the OAuth credential persisted per user.
//
// ExpiresAt is always derived as now + ExpiresIn at the moment of issuance or
// refresh and serialized as RFC 3339 (time.Time's JSON form). Expiry
// arithmetic never uses display-formatted strings.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewTokenRecord builds a record from a provider token response, deriving
// ExpiresAt from expiresIn at the given instant.
func NewTokenRecord(accessToken, tokenType string, expiresIn int64, refreshToken, scope string, now time.Time) *TokenRecord {
	return &TokenRecord{
		AccessToken:  accessToken,
		TokenType:    tokenType,
		ExpiresIn:    expiresIn,
		RefreshToken: refreshToken,
		Scope:        scope,
		ExpiresAt:    now.Add(time.Duration(expiresIn) * time.Second),
	}
}

// Expired reports whether the access token has expired at the given instant.
// Pure function of (now, ExpiresAt); no I/O, no grace period.
func (r *TokenRecord) Expired(now time.Time) bool {
	if r == nil {
		return true
	}
	return security.ExpiredAtInstant(now, r.ExpiresAt)
}

// Merge combines this record with the result of a refresh-token exchange.
// The refreshed access token, type, scope and expiry replace the old values;
// the prior refresh token is retained when the provider omits a new one
// (providers are not required to rotate refresh tokens).
func (r *TokenRecord) Merge(refreshed *TokenRecord) *TokenRecord {
	if refreshed == nil {
		return r
	}

	merged := &TokenRecord{
		AccessToken:  refreshed.AccessToken,
		TokenType:    refreshed.TokenType,
		ExpiresIn:    refreshed.ExpiresIn,
		RefreshToken: refreshed.RefreshToken,
		Scope:        refreshed.Scope,
		ExpiresAt:    refreshed.ExpiresAt,
	}

	if merged.RefreshToken == "" {
		merged.RefreshToken = r.RefreshToken
	}
	if merged.TokenType == "" {
		merged.TokenType = r.TokenType
	}
	if merged.Scope == "" {
		merged.Scope = r.Scope
	}

	return merged
}

// ForceExpired returns a copy of the record whose expiry has just passed.
// Used when the upstream rejects a token that looked valid locally (clock
// skew or remote revocation) so the next attempt performs a refresh.
func (r *TokenRecord) ForceExpired(now time.Time) *TokenRecord {
	expired := *r
	expired.ExpiresAt = now.Add(-time.Second)
	return &expired
}

// TokenTTL returns the storage TTL for a record: time until expiry plus the
// grace period, so refreshable records outlive their access token but
// abandoned sessions self-clean.
func TokenTTL(record *TokenRecord, now time.Time, grace time.Duration) time.Duration {
	if record.ExpiresAt.IsZero() {
		return 0
	}
	ttl := record.ExpiresAt.Sub(now) + grace
	if ttl < 0 {
		return 0
	}
	return ttl
}

package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations.
// Callers match these with errors.Is to distinguish "absent" from
// infrastructure failures.
var (
	// ErrTokenNotFound is returned when no token record exists for a user
	ErrTokenNotFound = errors.New("token not found")

	// ErrCacheMiss is returned when a cache key is absent or expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrCorruptRecord is returned when stored data cannot be decoded.
	// Token callers treat this the same as ErrTokenNotFound: corrupt state
	// means "not authenticated", never a crash.
	ErrCorruptRecord = errors.New("corrupt record")
)

// DefaultTokenGracePeriod is added to a token's expires_in when computing the
// durable-store TTL, so records survive long enough to be refreshed but
// abandoned sessions self-clean.
const DefaultTokenGracePeriod = 30 * time.Minute

// TokenStore persists OAuth token records keyed by user ID.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveTokens upserts the token record for a user. Durable backends set a
	// TTL of time-until-expiry plus DefaultTokenGracePeriod.
	SaveTokens(ctx context.Context, userID string, record *TokenRecord) error

	// GetTokens retrieves the token record for a user.
	// Returns ErrTokenNotFound when absent; corrupt data is reported as
	// ErrCorruptRecord so callers can treat it as "not authenticated".
	GetTokens(ctx context.Context, userID string) (*TokenRecord, error)

	// RemoveTokens deletes the token record for a user. Idempotent.
	RemoveTokens(ctx context.Context, userID string) error
}

// StateStore persists single-use CSRF state tokens for the OAuth redirect
// round-trip.
type StateStore interface {
	// SaveState stores a state token until expiresAt.
	SaveState(ctx context.Context, token string, expiresAt time.Time) error

	// ConsumeState atomically checks and deletes a state token.
	// Returns (true, nil) exactly once per saved, unexpired token;
	// (false, nil) when the token is absent, expired, or already consumed.
	// A non-nil error indicates a storage failure, which callers must treat
	// as verification failure (fail closed).
	//
	// SECURITY: the check-and-delete MUST be atomic so two concurrent
	// callbacks presenting the same state cannot both succeed.
	ConsumeState(ctx context.Context, token string) (bool, error)

	// DeleteState removes a state token. Idempotent, safe after consumption.
	DeleteState(ctx context.Context, token string) error
}

// CacheStore persists time-boxed upstream response payloads.
// Implementations are best-effort: callers degrade to "always miss" when the
// backend is unavailable.
type CacheStore interface {
	// CacheGet returns the payload for key, or ErrCacheMiss.
	CacheGet(ctx context.Context, key string) ([]byte, error)

	// CacheSet stores a payload under key for ttl.
	CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// CacheDelete removes a single key. Idempotent.
	CacheDelete(ctx context.Context, key string) error

	// CacheDeleteByPrefix bulk-removes all keys sharing a prefix and returns
	// the number removed. Used to clear a user's cached responses at logout.
	CacheDeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// WindowRequest describes one sliding-window admission check across an
// endpoint-specific window and the always-applied global window.
type WindowRequest struct {
	// Now is the admission timestamp recorded into both windows when allowed
	Now time.Time

	// EndpointLimit and EndpointWindow bound the endpoint-specific budget
	EndpointLimit  int
	EndpointWindow time.Duration

	// GlobalLimit and GlobalWindow bound the per-user aggregate budget
	GlobalLimit  int
	GlobalWindow time.Duration
}

// WindowResult reports the outcome of an admission check.
// Counts include the admitted entry when Allowed is true.
type WindowResult struct {
	Allowed       bool
	EndpointCount int
	GlobalCount   int
}

// RateWindowStore maintains sliding windows of request timestamps.
type RateWindowStore interface {
	// AdmitWindowed atomically evicts entries older than the window from both
	// keys, checks both counts against their limits, and admits a new entry
	// into both windows when neither is exhausted. Rejection is decided
	// before the new entry is recorded.
	//
	// SECURITY: the evict-check-admit sequence MUST be atomic per key pair so
	// two concurrent requests cannot both observe count = limit-1 and both be
	// admitted, overshooting the budget.
	AdmitWindowed(ctx context.Context, endpointKey, globalKey string, req WindowRequest) (*WindowResult, error)
}

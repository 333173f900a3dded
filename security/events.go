package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Login flow events

	// EventLoginInitiated is logged when an OAuth login attempt begins
	EventLoginInitiated = "login_initiated"

	// EventStateMismatch is logged when callback state validation fails (possible CSRF)
	EventStateMismatch = "state_mismatch"

	// EventCodeExchanged is logged when an authorization code is exchanged for tokens
	EventCodeExchanged = "code_exchanged"

	// EventExchangeFailed is logged when the provider rejects a code exchange
	EventExchangeFailed = "exchange_failed"

	// Token lifecycle events

	// EventTokenRefreshed is logged when an access token is refreshed using a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventRefreshFailed is logged when the provider rejects a refresh token
	EventRefreshFailed = "refresh_failed"

	// EventLogout is logged when a user's tokens and cached responses are removed
	EventLogout = "logout"

	// Protective layer events

	// EventRateLimitExceeded is logged when an outbound request is rejected by the rate limiter
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventStorageDegraded is logged when the durable store is unreachable and a
	// component falls back to its degraded mode
	EventStorageDegraded = "storage_degraded"
)

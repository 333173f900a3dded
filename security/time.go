package security

import "time"

// ExpiredAtInstant reports whether expiresAt has passed at the given instant.
// This is the pure form used for access-token expiry arithmetic: it is a
// deterministic function of (now, expiresAt) with no grace period and no
// side effects. A zero expiresAt means no expiration.
func ExpiredAtInstant(now, expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt)
}

// IsExpiringSoon checks if a timestamp will pass within the given threshold.
func IsExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}

	return time.Now().Add(threshold).After(expiresAt)
}

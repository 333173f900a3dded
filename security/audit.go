package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/tunegate/tunegate/internal/util"
)

// maxReasonLength bounds failure reasons in audit logs; provider error
// bodies can be arbitrarily large
const maxReasonLength = 200

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	AttemptID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"attempt_id", event.AttemptID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogLoginInitiated logs the start of an OAuth login attempt
func (a *Auditor) LogLoginInitiated(userID, attemptID string) {
	a.LogEvent(Event{
		Type:      EventLoginInitiated,
		UserID:    userID,
		AttemptID: attemptID,
	})
}

// LogStateMismatch logs a failed CSRF state validation during callback
func (a *Auditor) LogStateMismatch(userID, attemptID string) {
	a.LogEvent(Event{
		Type:      EventStateMismatch,
		UserID:    userID,
		AttemptID: attemptID,
	})
}

// LogCodeExchanged logs a successful authorization-code exchange
func (a *Auditor) LogCodeExchanged(userID, attemptID, scope string) {
	a.LogEvent(Event{
		Type:      EventCodeExchanged,
		UserID:    userID,
		AttemptID: attemptID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogExchangeFailed logs a failed authorization-code exchange
func (a *Auditor) LogExchangeFailed(userID, attemptID, reason string) {
	a.LogEvent(Event{
		Type:      EventExchangeFailed,
		UserID:    userID,
		AttemptID: attemptID,
		Details: map[string]any{
			"reason": util.SafeTruncate(reason, maxReasonLength),
		},
	})
}

// LogTokenRefreshed logs a successful refresh-token exchange
func (a *Auditor) LogTokenRefreshed(userID string, rotated bool) {
	a.LogEvent(Event{
		Type:   EventTokenRefreshed,
		UserID: userID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogRefreshFailed logs a refresh attempt the provider rejected
func (a *Auditor) LogRefreshFailed(userID, reason string) {
	a.LogEvent(Event{
		Type:   EventRefreshFailed,
		UserID: userID,
		Details: map[string]any{
			"reason": util.SafeTruncate(reason, maxReasonLength),
		},
	})
}

// LogRateLimitExceeded logs a rate limit rejection for an upstream endpoint
func (a *Auditor) LogRateLimitExceeded(userID, endpoint string) {
	a.LogEvent(Event{
		Type:   EventRateLimitExceeded,
		UserID: userID,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// LogStorageDegraded logs a fallback from the durable store to in-process
// storage
func (a *Auditor) LogStorageDegraded(reason string) {
	a.LogEvent(Event{
		Type: EventStorageDegraded,
		Details: map[string]any{
			"reason": util.SafeTruncate(reason, maxReasonLength),
		},
	})
}

// LogLogout logs a user-initiated logout (tokens and cache cleared)
func (a *Auditor) LogLogout(userID string) {
	a.LogEvent(Event{
		Type:   EventLogout,
		UserID: userID,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

// Package state manages the single-use CSRF state tokens that bind an
// authorization redirect to the callback that completes it.
//
// Tokens are 256-bit random values, stored server-side with a short TTL and
// consumed atomically on verification: a state presented twice, after expiry,
// or never issued at all always fails. Verification fails closed: a storage
// error is reported as an error, never as a pass.
package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/tunegate/tunegate/storage"
)

const (
	// DefaultTTL is how long an issued state token remains valid. Long
	// enough for a user to complete the provider's consent screen, short
	// enough that a leaked value goes stale quickly.
	DefaultTTL = 10 * time.Minute

	// tokenBytes is the entropy of a state token (256 bits)
	tokenBytes = 32
)

// Manager issues and verifies single-use state tokens.
type Manager struct {
	store  storage.StateStore
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a state manager backed by the given store.
// If ttl is 0 or negative, DefaultTTL is used.
func New(store storage.StateStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		logger: slog.Default(),
	}
}

// SetLogger sets a custom logger
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

// TTL returns the configured token lifetime
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Generate creates, persists, and returns a new state token. The returned
// value is URL-safe and carries 256 bits of entropy from crypto/rand.
func (m *Manager) Generate(ctx context.Context) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	if err := m.store.SaveState(ctx, token, time.Now().Add(m.ttl)); err != nil {
		return "", fmt.Errorf("failed to save state token: %w", err)
	}

	m.logger.Debug("Issued state token", "ttl", m.ttl)
	return token, nil
}

// Verify atomically consumes the given state token. It returns (true, nil)
// exactly once per issued, unexpired token; (false, nil) for absent, expired,
// or replayed tokens; and (false, err) when the store cannot answer, so the
// caller rejects the callback rather than trusting an unverifiable state.
func (m *Manager) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	ok, err := m.store.ConsumeState(ctx, token)
	if err != nil {
		return false, fmt.Errorf("state verification unavailable: %w", err)
	}

	return ok, nil
}

// Discard removes a state token without verifying it, for flows abandoned
// before the callback arrives. Idempotent.
func (m *Manager) Discard(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.DeleteState(ctx, token)
}

package valkey

import (
	"context"
	"fmt"
	"time"
)

// luaAtomicConsumeState atomically retrieves and deletes a state token entry.
// Only ONE concurrent callback presenting the same state can succeed; every
// other attempt observes NOT_FOUND. Expiry is enforced by the key TTL set at
// save time, so no timestamp comparison is needed here.
//
// KEYS[1] = state key (e.g., "tunegate:state:<digest>")
//
// Returns:
//   - The stored value (plaintext or ciphertext token) on success
//   - "NOT_FOUND" if the key does not exist or already expired
const luaAtomicConsumeState = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

redis.call('DEL', KEYS[1])
return data
`

// SaveState stores a state token until expiresAt. The token value is
// encrypted at rest when an encryptor is configured; the key carries only a
// digest of the token.
func (s *Store) SaveState(ctx context.Context, token string, expiresAt time.Time) error {
	if token == "" {
		return fmt.Errorf("state token cannot be empty")
	}
	if err := validateStringLength(token, MaxTokenLength, "state token"); err != nil {
		return err
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("state expiry must be in the future")
	}

	value := token
	if enc := s.getEncryptor(); enc != nil && enc.IsEnabled() {
		encrypted, err := enc.Encrypt(token)
		if err != nil {
			return fmt.Errorf("failed to encrypt state: %w", err)
		}
		value = encrypted
	}

	key := s.stateKey(token)
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Px(ttl).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	s.logger.Debug("Saved state token", "expires_at", expiresAt)
	return nil
}

// ConsumeState atomically checks and deletes a state token. Returns
// (true, nil) when the token existed and was unexpired, (false, nil) when it
// was absent, expired, or already consumed, and a non-nil error only on
// backend failure so callers can fail closed.
func (s *Store) ConsumeState(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	key := s.stateKey(token)

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaAtomicConsumeState).
			Numkeys(1).
			Key(key).
			Build(),
	).ToString()
	if err != nil {
		return false, fmt.Errorf("failed to consume state: %w", err)
	}

	if result == "NOT_FOUND" {
		return false, nil
	}

	if enc := s.getEncryptor(); enc != nil && enc.IsEnabled() {
		original, decErr := enc.Decrypt(result)
		if decErr != nil || original != token {
			// Digest collision or corrupt entry: fail closed
			return false, nil
		}
	}

	s.logger.Debug("Consumed state token")
	return true, nil
}

// DeleteState removes a state token without consuming it. Idempotent.
func (s *Store) DeleteState(ctx context.Context, token string) error {
	key := s.stateKey(token)

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

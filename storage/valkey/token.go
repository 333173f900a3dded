package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tunegate/tunegate/storage"
)

// SaveTokens stores a user's credential record with a TTL covering the access
// token lifetime plus the refresh grace period, so refreshable records
// survive access-token expiry but abandoned sessions self-clean.
func (s *Store) SaveTokens(ctx context.Context, userID string, record *storage.TokenRecord) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := validateStringLength(record.AccessToken, MaxTokenLength, "access token"); err != nil {
		return err
	}
	if err := validateStringLength(record.RefreshToken, MaxTokenLength, "refresh token"); err != nil {
		return err
	}

	stored, err := s.encryptRecord(record)
	if err != nil {
		return err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}

	key := s.tokenKey(userID)
	ttl := storage.TokenTTL(record, time.Now(), storage.DefaultTokenGracePeriod)

	var execErr error
	if ttl > 0 {
		execErr = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
	} else {
		execErr = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error()
	}
	if execErr != nil {
		return fmt.Errorf("failed to save token record: %w", execErr)
	}

	s.logger.Debug("Saved token record", "user_id", userID, "expires_at", record.ExpiresAt, "ttl", ttl)
	return nil
}

// GetTokens retrieves the credential record for a user, decrypting if needed.
// Returns storage.ErrTokenNotFound when no record exists (or its TTL lapsed).
func (s *Store) GetTokens(ctx context.Context, userID string) (*storage.TokenRecord, error) {
	key := s.tokenKey(userID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get token record: %w", err)
	}

	var record storage.TokenRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorruptRecord, err)
	}

	decrypted, err := s.decryptRecord(&record)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorruptRecord, err)
	}

	return decrypted, nil
}

// RemoveTokens deletes the credential record for a user. Idempotent.
func (s *Store) RemoveTokens(ctx context.Context, userID string) error {
	key := s.tokenKey(userID)

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to remove token record: %w", err)
	}

	s.logger.Debug("Removed token record", "user_id", userID)
	return nil
}

// encryptRecord encrypts sensitive fields in a token record.
// Returns a new record, leaving the original unchanged.
// Pass-through when no encryptor is configured.
func (s *Store) encryptRecord(record *storage.TokenRecord) (*storage.TokenRecord, error) {
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return record, nil
	}

	encrypted := *record

	if encrypted.AccessToken != "" {
		val, err := enc.Encrypt(encrypted.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
		encrypted.AccessToken = val
	}

	if encrypted.RefreshToken != "" {
		val, err := enc.Encrypt(encrypted.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		encrypted.RefreshToken = val
	}

	return &encrypted, nil
}

// decryptRecord decrypts sensitive fields in a token record.
// Returns a new record, leaving the original unchanged.
func (s *Store) decryptRecord(record *storage.TokenRecord) (*storage.TokenRecord, error) {
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return record, nil
	}

	decrypted := *record

	if decrypted.AccessToken != "" {
		val, err := enc.Decrypt(decrypted.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt access token: %w", err)
		}
		decrypted.AccessToken = val
	}

	if decrypted.RefreshToken != "" {
		val, err := enc.Decrypt(decrypted.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		decrypted.RefreshToken = val
	}

	return &decrypted, nil
}

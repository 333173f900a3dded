// Package file provides a file-backed TokenStore. It is the development
// fallback when no durable backend is reachable: credentials survive process
// restarts on a single host, but nothing is shared across replicas.
//
// The whole store is one JSON document rewritten atomically (temp file plus
// rename) on every mutation, so a crash mid-write never corrupts the store.
// Token fields are encrypted at rest when an encryptor is configured.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tunegate/tunegate/security"
	"github.com/tunegate/tunegate/storage"
)

// storeFileMode keeps credentials readable by the owning user only
const storeFileMode = 0o600

// Store persists token records in a single JSON file.
type Store struct {
	mu        sync.Mutex
	path      string
	logger    *slog.Logger
	encryptor *security.Encryptor

	// records mirrors the on-disk document; loaded once, kept in sync on write
	records map[string]*storage.TokenRecord
}

var _ storage.TokenStore = (*Store)(nil)

// New creates a file-backed token store at path, loading any existing
// document. The parent directory is created if missing.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		path:    path,
		logger:  slog.Default(),
		records: make(map[string]*storage.TokenRecord),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEncryptor sets the encryptor used for at-rest encryption of token fields
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Token encryption at rest enabled for file storage", "path", s.path)
	}
}

// SaveTokens upserts a token record for a user and rewrites the store file
func (s *Store) SaveTokens(ctx context.Context, userID string, record *storage.TokenRecord) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record
	if s.encryptor != nil && s.encryptor.IsEnabled() {
		encrypted, err := s.transformRecord(record, s.encryptor.Encrypt)
		if err != nil {
			return fmt.Errorf("failed to encrypt record: %w", err)
		}
		stored = encrypted
	}

	s.records[userID] = stored
	if err := s.flushLocked(); err != nil {
		return err
	}

	s.logger.Debug("Saved token record to file", "user_id", userID, "expires_at", record.ExpiresAt)
	return nil
}

// GetTokens retrieves the token record for a user.
// Returns storage.ErrTokenNotFound when no record exists.
func (s *Store) GetTokens(ctx context.Context, userID string) (*storage.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, userID)
	}

	if s.encryptor != nil && s.encryptor.IsEnabled() {
		decrypted, err := s.transformRecord(record, s.encryptor.Decrypt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrCorruptRecord, err)
		}
		return decrypted, nil
	}

	copied := *record
	return &copied, nil
}

// RemoveTokens deletes the token record for a user. Idempotent.
func (s *Store) RemoveTokens(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.records[userID]; !existed {
		return nil
	}

	delete(s.records, userID)
	if err := s.flushLocked(); err != nil {
		return err
	}

	s.logger.Debug("Removed token record from file", "user_id", userID)
	return nil
}

// transformRecord applies fn to the sensitive fields of a record, returning a
// copy and leaving the original unchanged
func (s *Store) transformRecord(record *storage.TokenRecord, fn func(string) (string, error)) (*storage.TokenRecord, error) {
	out := *record

	if out.AccessToken != "" {
		val, err := fn(out.AccessToken)
		if err != nil {
			return nil, err
		}
		out.AccessToken = val
	}

	if out.RefreshToken != "" {
		val, err := fn(out.RefreshToken)
		if err != nil {
			return nil, err
		}
		out.RefreshToken = val
	}

	return &out, nil
}

// load reads the store document from disk. A missing file is an empty store,
// and so is an unparseable one: corrupt credentials read as "not
// authenticated", never as a startup failure. The bad file is quarantined
// under a .corrupt suffix so the next flush cannot silently destroy it.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		s.records = make(map[string]*storage.TokenRecord)

		quarantine := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, quarantine); renameErr != nil {
			s.logger.Warn("Token store file is corrupt and could not be quarantined, starting empty",
				"path", s.path,
				"error", err,
				"rename_error", renameErr)
		} else {
			s.logger.Warn("Token store file is corrupt, quarantined and starting empty",
				"path", s.path,
				"quarantine", quarantine,
				"error", err)
		}
		return nil
	}

	s.logger.Debug("Loaded token store from file", "path", s.path, "records", len(s.records))
	return nil
}

// flushLocked rewrites the store document atomically. Caller must hold the
// mutex. Write-to-temp plus rename means readers never observe a torn file.
func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tunegate-store-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Chmod(storeFileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set store file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close store file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store file: %w", err)
	}

	return nil
}

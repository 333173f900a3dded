package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tunegate/tunegate/instrumentation"
	"github.com/tunegate/tunegate/security"
	"github.com/tunegate/tunegate/storage"
)

// stateEntry holds one saved CSRF state token. The map key is a SHA-256
// digest of the token, so plaintext state never sits in process memory; the
// ciphertext is kept so the entry can be re-verified against the original
// value on lookup when encryption is enabled.
type stateEntry struct {
	ciphertext string
	expiresAt  time.Time
}

// cacheEntry holds one cached upstream response payload
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// windowEntry holds a sliding window of admission timestamps for one key
type windowEntry struct {
	timestamps []time.Time
	window     time.Duration
	touched    time.Time
}

// Store is an in-memory implementation of all storage interfaces.
// It implements TokenStore, StateStore, CacheStore, and RateWindowStore.
type Store struct {
	mu sync.Mutex

	// Token storage (encrypted at rest if encryptor is set)
	tokens map[string]*storage.TokenRecord

	// State storage, keyed by token digest
	states map[string]*stateEntry

	// Response cache
	cache map[string]*cacheEntry

	// Rate-limit windows
	windows map[string]*windowEntry

	// Security
	encryptor *security.Encryptor

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	tokensCountAtomic atomic.Int64
	statesCountAtomic atomic.Int64
	cacheCountAtomic  atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.TokenStore      = (*Store)(nil)
	_ storage.StateStore      = (*Store)(nil)
	_ storage.CacheStore      = (*Store)(nil)
	_ storage.RateWindowStore = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, uses the default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		tokens:          make(map[string]*storage.TokenRecord),
		states:          make(map[string]*stateEntry),
		cache:           make(map[string]*cacheEntry),
		windows:         make(map[string]*windowEntry),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEncryptor sets the encryptor used for at-rest encryption of state
// tokens and OAuth credentials
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for in-memory storage")
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.statesCountAtomic.Store(int64(len(s.states)))
	s.cacheCountAtomic.Store(int64(len(s.cache)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.tokensCountAtomic.Load() },
			func() int64 { return s.statesCountAtomic.Load() },
			func() int64 { return s.cacheCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveTokens upserts a token record for a user with optional encryption
func (s *Store) SaveTokens(ctx context.Context, userID string, record *storage.TokenRecord) error {
	ctx, span := s.startStorageSpan(ctx, "save_tokens")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_tokens", err, startTime)
	}()

	if userID == "" {
		err = fmt.Errorf("userID cannot be empty")
		return err
	}
	if record == nil {
		err = fmt.Errorf("record cannot be nil")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record
	if s.encryptor != nil && s.encryptor.IsEnabled() {
		stored, err = s.encryptRecord(record)
		if err != nil {
			return err
		}
	}

	_, existed := s.tokens[userID]
	s.tokens[userID] = stored
	if !existed {
		s.tokensCountAtomic.Add(1)
	}

	s.logger.Debug("Saved token record", "user_id", userID, "expires_at", record.ExpiresAt)
	return nil
}

// GetTokens retrieves the token record for a user and decrypts if necessary.
// The in-memory backend applies no TTL: callers must check Expired themselves.
func (s *Store) GetTokens(ctx context.Context, userID string) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "get_tokens")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_tokens", err, startTime)
	}()

	s.mu.Lock()
	encryptor := s.encryptor
	record, ok := s.tokens[userID]
	s.mu.Unlock()

	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrTokenNotFound, userID)
		return nil, err
	}

	if encryptor != nil && encryptor.IsEnabled() {
		decrypted, decErr := s.decryptRecord(record)
		if decErr != nil {
			err = fmt.Errorf("%w: %v", storage.ErrCorruptRecord, decErr)
			return nil, err
		}
		return decrypted, nil
	}

	// Return a copy so callers cannot mutate the stored record
	copied := *record
	return &copied, nil
}

// RemoveTokens deletes the token record for a user
func (s *Store) RemoveTokens(ctx context.Context, userID string) error {
	ctx, span := s.startStorageSpan(ctx, "remove_tokens")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "remove_tokens", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.tokens[userID]; existed {
		delete(s.tokens, userID)
		s.tokensCountAtomic.Add(-1)
	}

	s.logger.Debug("Removed token record", "user_id", userID)
	return nil
}

// encryptRecord encrypts sensitive fields in a token record.
// Returns a new record, leaving the original unchanged.
func (s *Store) encryptRecord(record *storage.TokenRecord) (*storage.TokenRecord, error) {
	encrypted := *record

	if encrypted.AccessToken != "" {
		enc, err := s.encryptor.Encrypt(encrypted.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
		encrypted.AccessToken = enc
	}

	if encrypted.RefreshToken != "" {
		enc, err := s.encryptor.Encrypt(encrypted.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		encrypted.RefreshToken = enc
	}

	return &encrypted, nil
}

// decryptRecord decrypts sensitive fields in a token record.
// Returns a new record, leaving the stored version unchanged.
func (s *Store) decryptRecord(record *storage.TokenRecord) (*storage.TokenRecord, error) {
	decrypted := *record

	if decrypted.AccessToken != "" {
		dec, err := s.encryptor.Decrypt(decrypted.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt access token: %w", err)
		}
		decrypted.AccessToken = dec
	}

	if decrypted.RefreshToken != "" {
		dec, err := s.encryptor.Decrypt(decrypted.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		decrypted.RefreshToken = dec
	}

	return &decrypted, nil
}

// ============================================================
// StateStore Implementation
// ============================================================

// stateDigest returns the map key for a state token. Keying by digest keeps
// plaintext state out of process memory even before encryption is applied.
func stateDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SaveState stores a state token until expiresAt, encrypted at rest when an
// encryptor is configured
func (s *Store) SaveState(ctx context.Context, token string, expiresAt time.Time) error {
	ctx, span := s.startStorageSpan(ctx, "save_state")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_state", err, startTime)
	}()

	if token == "" {
		err = fmt.Errorf("state token cannot be empty")
		return err
	}

	ciphertext := token
	s.mu.Lock()
	encryptor := s.encryptor
	s.mu.Unlock()

	if encryptor != nil && encryptor.IsEnabled() {
		ciphertext, err = encryptor.Encrypt(token)
		if err != nil {
			return fmt.Errorf("failed to encrypt state: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	digest := stateDigest(token)
	if _, existed := s.states[digest]; !existed {
		s.statesCountAtomic.Add(1)
	}
	s.states[digest] = &stateEntry{
		ciphertext: ciphertext,
		expiresAt:  expiresAt,
	}

	s.logger.Debug("Saved state token", "expires_at", expiresAt)
	return nil
}

// ConsumeState atomically checks and deletes a state token.
// The mutex makes the check-and-delete atomic: only one concurrent caller
// presenting the same state can succeed.
func (s *Store) ConsumeState(ctx context.Context, token string) (bool, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_state")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_state", err, startTime)
	}()

	if token == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	digest := stateDigest(token)
	entry, ok := s.states[digest]
	if !ok {
		return false, nil
	}

	// Expired entries still present before the next sweep are not valid
	if time.Now().After(entry.expiresAt) {
		delete(s.states, digest)
		s.statesCountAtomic.Add(-1)
		return false, nil
	}

	if s.encryptor != nil && s.encryptor.IsEnabled() {
		original, decErr := s.encryptor.Decrypt(entry.ciphertext)
		if decErr != nil || original != token {
			// Digest collision or corrupt entry: fail closed
			return false, nil
		}
	}

	delete(s.states, digest)
	s.statesCountAtomic.Add(-1)

	s.logger.Debug("Consumed state token")
	return true, nil
}

// DeleteState removes a state token. Idempotent.
func (s *Store) DeleteState(ctx context.Context, token string) error {
	_, span := s.startStorageSpan(ctx, "delete_state")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	digest := stateDigest(token)
	if _, existed := s.states[digest]; existed {
		delete(s.states, digest)
		s.statesCountAtomic.Add(-1)
	}
	return nil
}

// ============================================================
// CacheStore Implementation
// ============================================================

// CacheGet returns the payload for key, or storage.ErrCacheMiss
func (s *Store) CacheGet(ctx context.Context, key string) ([]byte, error) {
	ctx, span := s.startStorageSpan(ctx, "cache_get")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "cache_get", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[key]
	if !ok {
		err = storage.ErrCacheMiss
		return nil, err
	}

	if time.Now().After(entry.expiresAt) {
		delete(s.cache, key)
		s.cacheCountAtomic.Add(-1)
		err = storage.ErrCacheMiss
		return nil, err
	}

	// Copy so callers cannot mutate the cached payload
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// CacheSet stores a payload under key for ttl
func (s *Store) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := s.startStorageSpan(ctx, "cache_set")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "cache_set", err, startTime)
	}()

	if ttl <= 0 {
		err = fmt.Errorf("cache ttl must be positive")
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.cache[key]; !existed {
		s.cacheCountAtomic.Add(1)
	}
	s.cache[key] = &cacheEntry{
		value:     stored,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// CacheDelete removes a single cache key. Idempotent.
func (s *Store) CacheDelete(ctx context.Context, key string) error {
	_, span := s.startStorageSpan(ctx, "cache_delete")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.cache[key]; existed {
		delete(s.cache, key)
		s.cacheCountAtomic.Add(-1)
	}
	return nil
}

// CacheDeleteByPrefix bulk-removes all keys sharing a prefix
func (s *Store) CacheDeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "cache_delete_by_prefix")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "cache_delete_by_prefix", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.cache {
		if strings.HasPrefix(key, prefix) {
			delete(s.cache, key)
			removed++
		}
	}
	s.cacheCountAtomic.Add(int64(-removed))

	if removed > 0 {
		s.logger.Debug("Cleared cache entries by prefix", "count", removed)
	}
	return removed, nil
}

// ============================================================
// RateWindowStore Implementation
// ============================================================

// AdmitWindowed atomically evicts, checks, and admits across the endpoint
// window and the global window. The single mutex makes the check-then-admit
// sequence atomic across concurrent callers.
func (s *Store) AdmitWindowed(ctx context.Context, endpointKey, globalKey string, req storage.WindowRequest) (*storage.WindowResult, error) {
	ctx, span := s.startStorageSpan(ctx, "admit_windowed")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "admit_windowed", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint := s.windowLocked(endpointKey, req.EndpointWindow)
	global := s.windowLocked(globalKey, req.GlobalWindow)

	endpoint.evict(req.Now)
	global.evict(req.Now)

	result := &storage.WindowResult{
		EndpointCount: len(endpoint.timestamps),
		GlobalCount:   len(global.timestamps),
	}

	// Rejection is decided before the new entry is admitted
	if result.EndpointCount >= req.EndpointLimit || result.GlobalCount >= req.GlobalLimit {
		return result, nil
	}

	endpoint.admit(req.Now)
	global.admit(req.Now)
	result.Allowed = true
	result.EndpointCount++
	result.GlobalCount++

	return result, nil
}

// windowLocked returns the window entry for key, creating it if needed.
// Caller must hold the mutex.
func (s *Store) windowLocked(key string, window time.Duration) *windowEntry {
	entry, ok := s.windows[key]
	if !ok {
		entry = &windowEntry{window: window}
		s.windows[key] = entry
	}
	entry.window = window
	entry.touched = time.Now()
	return entry
}

// evict drops timestamps older than now - window
func (w *windowEntry) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	keep := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if !ts.Before(cutoff) {
			keep = append(keep, ts)
		}
	}
	w.timestamps = keep
}

// admit records a new timestamped entry
func (w *windowEntry) admit(now time.Time) {
	w.timestamps = append(w.timestamps, now)
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0

	// Expired state tokens
	for digest, entry := range s.states {
		if now.After(entry.expiresAt) {
			delete(s.states, digest)
			s.statesCountAtomic.Add(-1)
			cleaned++
		}
	}

	// Expired cache entries
	for key, entry := range s.cache {
		if now.After(entry.expiresAt) {
			delete(s.cache, key)
			s.cacheCountAtomic.Add(-1)
			cleaned++
		}
	}

	// Idle rate windows: every timestamp has left the window
	for key, entry := range s.windows {
		entry.evict(now)
		if len(entry.timestamps) == 0 && now.Sub(entry.touched) > entry.window {
			delete(s.windows, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}

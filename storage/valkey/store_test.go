package valkey

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tunegate/tunegate/security"
	"github.com/tunegate/tunegate/storage"
)

const testUserID = "test-user"

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if VALKEY_TEST_ADDR is not set or connection fails.
// Each test gets a unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("tunegatetest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New() should fail without an address")
	}
}

func TestKeyHelpers(t *testing.T) {
	s := &Store{prefix: "tunegate:"}

	if got := s.tokenKey("user-1"); got != "tunegate:token:user-1" {
		t.Errorf("tokenKey() = %q", got)
	}
	if got := s.cacheKey("cache:user-1:abc"); got != "tunegate:cache:user-1:abc" {
		t.Errorf("cacheKey() = %q", got)
	}
	if got := s.windowKey("rl:user-1:global"); got != "tunegate:rl:user-1:global" {
		t.Errorf("windowKey() = %q", got)
	}
}

func TestStateKeyHidesToken(t *testing.T) {
	s := &Store{prefix: "tunegate:"}

	key := s.stateKey("secret-state-value")
	if strings.Contains(key, "secret-state-value") {
		t.Errorf("stateKey() leaks the token: %q", key)
	}
	if !strings.HasPrefix(key, "tunegate:state:") {
		t.Errorf("stateKey() = %q, want tunegate:state: prefix", key)
	}
	// Deterministic: same token always maps to the same key
	if key != s.stateKey("secret-state-value") {
		t.Error("stateKey() is not deterministic")
	}
}

func TestValidateStringLength(t *testing.T) {
	if err := validateStringLength("short", 10, "field"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := validateStringLength(strings.Repeat("x", 11), 10, "field"); err == nil {
		t.Error("expected error for oversized input")
	}
}

// ============================================================
// TokenStore Tests (require live Valkey)
// ============================================================

func TestTokenLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	record := storage.NewTokenRecord("access-1", "Bearer", 3600, "refresh-1", "playlist-read", time.Now())
	if err := s.SaveTokens(ctx, testUserID, record); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	got, err := s.GetTokens(ctx, testUserID)
	if err != nil {
		t.Fatalf("GetTokens() error = %v", err)
	}
	if got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" {
		t.Errorf("GetTokens() = %+v, want saved record", got)
	}

	if err := s.RemoveTokens(ctx, testUserID); err != nil {
		t.Fatalf("RemoveTokens() error = %v", err)
	}

	if _, err := s.GetTokens(ctx, testUserID); err == nil {
		t.Error("GetTokens() after removal should fail")
	}
}

func TestTokenEncryptionRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	s.SetEncryptor(enc)

	record := storage.NewTokenRecord("secret-access", "Bearer", 3600, "secret-refresh", "", time.Now())
	if err := s.SaveTokens(ctx, testUserID, record); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	// Raw stored value must not contain the plaintext tokens
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(testUserID)).Build()).ToString()
	if err != nil {
		t.Fatalf("raw GET error = %v", err)
	}
	if strings.Contains(raw, "secret-access") || strings.Contains(raw, "secret-refresh") {
		t.Error("stored record contains plaintext tokens")
	}

	got, err := s.GetTokens(ctx, testUserID)
	if err != nil {
		t.Fatalf("GetTokens() error = %v", err)
	}
	if got.AccessToken != "secret-access" || got.RefreshToken != "secret-refresh" {
		t.Errorf("decrypted record = %+v", got)
	}
}

// ============================================================
// StateStore Tests (require live Valkey)
// ============================================================

func TestStateSingleUse(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveState(ctx, "state-token-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	ok, err := s.ConsumeState(ctx, "state-token-1")
	if err != nil {
		t.Fatalf("ConsumeState() error = %v", err)
	}
	if !ok {
		t.Fatal("first ConsumeState() should succeed")
	}

	ok, err = s.ConsumeState(ctx, "state-token-1")
	if err != nil {
		t.Fatalf("ConsumeState() error = %v", err)
	}
	if ok {
		t.Error("second ConsumeState() should fail")
	}
}

func TestStateUnknownToken(t *testing.T) {
	s := testStore(t)

	ok, err := s.ConsumeState(context.Background(), "never-saved")
	if err != nil {
		t.Fatalf("ConsumeState() error = %v", err)
	}
	if ok {
		t.Error("unknown state must not verify")
	}
}

func TestSaveStateRejectsPastExpiry(t *testing.T) {
	s := &Store{prefix: "tunegate:"}

	err := s.SaveState(context.Background(), "token", time.Now().Add(-time.Second))
	if err == nil {
		t.Error("SaveState() with past expiry should fail before touching the backend")
	}
}

// ============================================================
// CacheStore Tests (require live Valkey)
// ============================================================

func TestCacheLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.CacheGet(ctx, "cache:u1:miss"); err != storage.ErrCacheMiss {
		t.Errorf("CacheGet() on absent key = %v, want ErrCacheMiss", err)
	}

	payload := []byte(`{"items":[]}`)
	if err := s.CacheSet(ctx, "cache:u1:k1", payload, time.Minute); err != nil {
		t.Fatalf("CacheSet() error = %v", err)
	}

	got, err := s.CacheGet(ctx, "cache:u1:k1")
	if err != nil {
		t.Fatalf("CacheGet() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("CacheGet() = %s, want %s", got, payload)
	}

	if err := s.CacheSet(ctx, "cache:u1:k2", []byte("x"), time.Minute); err != nil {
		t.Fatalf("CacheSet() error = %v", err)
	}
	if err := s.CacheSet(ctx, "cache:u2:k1", []byte("y"), time.Minute); err != nil {
		t.Fatalf("CacheSet() error = %v", err)
	}

	removed, err := s.CacheDeleteByPrefix(ctx, "cache:u1:")
	if err != nil {
		t.Fatalf("CacheDeleteByPrefix() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("CacheDeleteByPrefix() removed %d, want 2", removed)
	}

	if _, err := s.CacheGet(ctx, "cache:u2:k1"); err != nil {
		t.Errorf("other user's entry should survive: %v", err)
	}
}

// ============================================================
// RateWindowStore Tests (require live Valkey)
// ============================================================

func TestAdmitWindowedEnforcesLimits(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	req := storage.WindowRequest{
		Now:            time.Now(),
		EndpointLimit:  2,
		EndpointWindow: time.Minute,
		GlobalLimit:    10,
		GlobalWindow:   time.Minute,
	}

	for i := 0; i < 2; i++ {
		res, err := s.AdmitWindowed(ctx, "rl:u1:/search", "rl:u1:global", req)
		if err != nil {
			t.Fatalf("AdmitWindowed() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	res, err := s.AdmitWindowed(ctx, "rl:u1:/search", "rl:u1:global", req)
	if err != nil {
		t.Fatalf("AdmitWindowed() error = %v", err)
	}
	if res.Allowed {
		t.Error("request over the endpoint limit should be rejected")
	}
	if res.EndpointCount != 2 {
		t.Errorf("EndpointCount = %d, want 2", res.EndpointCount)
	}
}

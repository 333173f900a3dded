package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunegate/tunegate/security"
	"github.com/tunegate/tunegate/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithInterval(time.Hour) // no sweeps during tests
	t.Cleanup(s.Stop)
	return s
}

func newEncryptedStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	key, err := security.GenerateKey()
	require.NoError(t, err)
	enc, err := security.NewEncryptor(key)
	require.NoError(t, err)
	s.SetEncryptor(enc)
	return s
}

func TestTokenRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name  string
		store func(*testing.T) *Store
	}{
		{"plaintext", newTestStore},
		{"encrypted", newEncryptedStore},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.store(t)
			ctx := context.Background()
			now := time.Now()

			record := storage.NewTokenRecord("access-1", "Bearer", 3600, "refresh-1", "scope", now)
			require.NoError(t, s.SaveTokens(ctx, "user-1", record))

			got, err := s.GetTokens(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, "access-1", got.AccessToken)
			assert.Equal(t, "refresh-1", got.RefreshToken)
			assert.True(t, got.ExpiresAt.Equal(record.ExpiresAt))
		})
	}
}

func TestGetTokensNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTokens(context.Background(), "absent")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRemoveTokensIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := storage.NewTokenRecord("a", "Bearer", 3600, "r", "", time.Now())
	require.NoError(t, s.SaveTokens(ctx, "user-1", record))

	require.NoError(t, s.RemoveTokens(ctx, "user-1"))
	require.NoError(t, s.RemoveTokens(ctx, "user-1"))

	_, err := s.GetTokens(ctx, "user-1")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestSaveTokensValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.SaveTokens(ctx, "", &storage.TokenRecord{}))
	assert.Error(t, s.SaveTokens(ctx, "user", nil))
}

func TestEncryptedTokensNotStoredInPlaintext(t *testing.T) {
	s := newEncryptedStore(t)
	ctx := context.Background()

	record := storage.NewTokenRecord("super-secret-access", "Bearer", 3600, "super-secret-refresh", "", time.Now())
	require.NoError(t, s.SaveTokens(ctx, "user-1", record))

	s.mu.Lock()
	stored := s.tokens["user-1"]
	s.mu.Unlock()

	assert.NotEqual(t, "super-secret-access", stored.AccessToken)
	assert.NotEqual(t, "super-secret-refresh", stored.RefreshToken)
}

func TestStateSingleUse(t *testing.T) {
	for _, tc := range []struct {
		name  string
		store func(*testing.T) *Store
	}{
		{"plaintext", newTestStore},
		{"encrypted", newEncryptedStore},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.store(t)
			ctx := context.Background()

			require.NoError(t, s.SaveState(ctx, "state-abc", time.Now().Add(10*time.Minute)))

			ok, err := s.ConsumeState(ctx, "state-abc")
			require.NoError(t, err)
			assert.True(t, ok, "first consume should succeed")

			ok, err = s.ConsumeState(ctx, "state-abc")
			require.NoError(t, err)
			assert.False(t, ok, "second consume should fail")
		})
	}
}

func TestStateExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "expired-state", time.Now().Add(-time.Second)))

	ok, err := s.ConsumeState(ctx, "expired-state")
	require.NoError(t, err)
	assert.False(t, ok, "expired state must not verify")
}

func TestStateUnknownAndMalformed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, token := range []string{"never-saved", "", "!!!not-base64###"} {
		ok, err := s.ConsumeState(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestStateConcurrentConsumeSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "contested", time.Now().Add(time.Minute)))

	const goroutines = 16
	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeState(ctx, "contested")
			if err == nil && ok {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent consumer may win")
}

func TestDeleteStateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "state-x", time.Now().Add(time.Minute)))
	require.NoError(t, s.DeleteState(ctx, "state-x"))
	require.NoError(t, s.DeleteState(ctx, "state-x"))

	ok, err := s.ConsumeState(ctx, "state-x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatePlaintextNotInMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "visible-state-value", time.Now().Add(time.Minute)))

	s.mu.Lock()
	defer s.mu.Unlock()
	for digest := range s.states {
		assert.NotEqual(t, "visible-state-value", digest, "state map keyed by plaintext token")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"items":[1,2,3]}`)
	require.NoError(t, s.CacheSet(ctx, "cache:u1:abc", payload, time.Minute))

	got, err := s.CacheGet(ctx, "cache:u1:abc")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCacheMissAndExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CacheGet(ctx, "absent")
	require.ErrorIs(t, err, storage.ErrCacheMiss)

	require.NoError(t, s.CacheSet(ctx, "short", []byte("v"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, err = s.CacheGet(ctx, "short")
	require.ErrorIs(t, err, storage.ErrCacheMiss)
}

func TestCacheDeleteByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CacheSet(ctx, "cache:u1:a", []byte("1"), time.Minute))
	require.NoError(t, s.CacheSet(ctx, "cache:u1:b", []byte("2"), time.Minute))
	require.NoError(t, s.CacheSet(ctx, "cache:u2:a", []byte("3"), time.Minute))

	removed, err := s.CacheDeleteByPrefix(ctx, "cache:u1:")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = s.CacheGet(ctx, "cache:u1:a")
	require.ErrorIs(t, err, storage.ErrCacheMiss)

	got, err := s.CacheGet(ctx, "cache:u2:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestAdmitWindowedMonotonicRejection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	req := storage.WindowRequest{
		Now:            now,
		EndpointLimit:  3,
		EndpointWindow: time.Minute,
		GlobalLimit:    100,
		GlobalWindow:   time.Minute,
	}

	for i := 0; i < 3; i++ {
		res, err := s.AdmitWindowed(ctx, "rl:u1:/search", "rl:u1:global", req)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d within limit should be allowed", i+1)
	}

	res, err := s.AdmitWindowed(ctx, "rl:u1:/search", "rl:u1:global", req)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "request over limit must be rejected")
	assert.Equal(t, 3, res.EndpointCount)
}

func TestAdmitWindowedGlobalBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	req := storage.WindowRequest{
		Now:            now,
		EndpointLimit:  100,
		EndpointWindow: time.Minute,
		GlobalLimit:    2,
		GlobalWindow:   time.Minute,
	}

	// Different endpoints share the global window
	res, err := s.AdmitWindowed(ctx, "rl:u1:/a", "rl:u1:global", req)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = s.AdmitWindowed(ctx, "rl:u1:/b", "rl:u1:global", req)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = s.AdmitWindowed(ctx, "rl:u1:/c", "rl:u1:global", req)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "global budget exhausted")
}

func TestAdmitWindowedSlidingEviction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	req := storage.WindowRequest{
		Now:            base,
		EndpointLimit:  1,
		EndpointWindow: time.Minute,
		GlobalLimit:    10,
		GlobalWindow:   time.Minute,
	}

	res, err := s.AdmitWindowed(ctx, "rl:u1:/x", "rl:u1:global", req)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = s.AdmitWindowed(ctx, "rl:u1:/x", "rl:u1:global", req)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// After the window slides past the first entry, capacity returns
	req.Now = base.Add(61 * time.Second)
	res, err = s.AdmitWindowed(ctx, "rl:u1:/x", "rl:u1:global", req)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.EndpointCount)
}

func TestAdmitWindowedConcurrentNoOvershoot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const limit = 10
	const attempts = 50

	var wg sync.WaitGroup
	allowed := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.AdmitWindowed(ctx, "rl:u1:/hot", "rl:u1:global", storage.WindowRequest{
				Now:            time.Now(),
				EndpointLimit:  limit,
				EndpointWindow: time.Minute,
				GlobalLimit:    1000,
				GlobalWindow:   time.Minute,
			})
			if err == nil && res.Allowed {
				allowed <- true
			}
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for range allowed {
		count++
	}
	assert.Equal(t, limit, count, "concurrent admits must not overshoot the limit")
}

func TestCleanupSweepsExpiredEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "old-state", time.Now().Add(-time.Minute)))
	require.NoError(t, s.CacheSet(ctx, "old-cache", []byte("v"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	s.cleanup()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.states)
	assert.Empty(t, s.cache)
}

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunegate/tunegate/storage"
	"github.com/tunegate/tunegate/storage/memory"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	store := memory.NewWithInterval(time.Hour)
	t.Cleanup(store.Stop)
	return New(store, cfg)
}

func TestMonotonicRejection(t *testing.T) {
	l := newTestLimiter(t, Config{
		Rules: []Rule{{Prefix: "/search", Limit: 3, Window: time.Minute}},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.CheckLimit(ctx, "/search", "user-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d within limit", i+1)
		assert.Equal(t, 3, res.Limit)
	}

	res, err := l.CheckLimit(ctx, "/search", "user-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "call over the limit must be rejected")
	assert.Equal(t, 0, res.Remaining)
	assert.False(t, res.ResetTime.IsZero())
}

func TestDefaultRuleForUnmatchedEndpoint(t *testing.T) {
	l := newTestLimiter(t, Config{
		Rules:         []Rule{{Prefix: "/search", Limit: 1, Window: time.Minute}},
		DefaultLimit:  2,
		DefaultWindow: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.CheckLimit(ctx, "/albums/123", "user-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Limit)
	}

	res, err := l.CheckLimit(ctx, "/albums/123", "user-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLongestPrefixWins(t *testing.T) {
	l := newTestLimiter(t, Config{
		Rules: []Rule{
			{Prefix: "/playlists", Limit: 10, Window: time.Minute},
			{Prefix: "/playlists/tracks", Limit: 2, Window: time.Minute},
		},
	})

	rule := l.ruleFor("/playlists/tracks/xyz")
	assert.Equal(t, 2, rule.Limit, "longer prefix must win")

	rule = l.ruleFor("/playlists/abc")
	assert.Equal(t, 10, rule.Limit)
}

func TestPrefixNormalization(t *testing.T) {
	l := newTestLimiter(t, Config{
		Rules: []Rule{{Prefix: "search/", Limit: 5, Window: time.Minute}},
	})

	// Missing leading slash in the rule, trailing slash on the request
	rule := l.ruleFor("/search/")
	assert.Equal(t, 5, rule.Limit)
}

func TestEndpointsSharingRuleShareBudget(t *testing.T) {
	l := newTestLimiter(t, Config{
		Rules: []Rule{{Prefix: "/playlists", Limit: 2, Window: time.Minute}},
	})
	ctx := context.Background()

	res, err := l.CheckLimit(ctx, "/playlists/a", "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.CheckLimit(ctx, "/playlists/b", "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.CheckLimit(ctx, "/playlists/c", "user-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "all endpoints under one rule share its budget")
}

func TestGlobalBudgetCapsAggregate(t *testing.T) {
	l := newTestLimiter(t, Config{
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
		GlobalLimit:   2,
		GlobalWindow:  time.Minute,
	})
	ctx := context.Background()

	res, err := l.CheckLimit(ctx, "/a", "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.CheckLimit(ctx, "/b", "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining, "remaining reflects the tighter global budget")

	res, err = l.CheckLimit(ctx, "/c", "user-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "global budget exhausted across endpoints")
}

func TestUsersDoNotShareBudgets(t *testing.T) {
	l := newTestLimiter(t, Config{
		Rules: []Rule{{Prefix: "/search", Limit: 1, Window: time.Minute}},
	})
	ctx := context.Background()

	res, err := l.CheckLimit(ctx, "/search", "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.CheckLimit(ctx, "/search", "user-2")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "another user's budget is untouched")
}

func TestFailOpenOnStoreError(t *testing.T) {
	l := New(&failingWindowStore{}, Config{
		Rules: []Rule{{Prefix: "/search", Limit: 1, Window: time.Minute}},
	})

	for i := 0; i < 5; i++ {
		res, err := l.CheckLimit(context.Background(), "/search", "user-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "unavailable store must fail open")
	}
}

func TestRemainingIsMinOfWindows(t *testing.T) {
	l := newTestLimiter(t, Config{
		Rules:        []Rule{{Prefix: "/search", Limit: 10, Window: time.Minute}},
		GlobalLimit:  3,
		GlobalWindow: time.Minute,
	})

	res, err := l.CheckLimit(context.Background(), "/search", "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	// Endpoint has 9 left, global has 2: min wins
	assert.Equal(t, 2, res.Remaining)
}

// failingWindowStore simulates an unreachable rate-limit backend
type failingWindowStore struct{}

func (f *failingWindowStore) AdmitWindowed(ctx context.Context, endpointKey, globalKey string, req storage.WindowRequest) (*storage.WindowResult, error) {
	return nil, errors.New("backend unavailable")
}

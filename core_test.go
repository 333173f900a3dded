package tunegate

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunegate/tunegate/instrumentation"
	"github.com/tunegate/tunegate/internal/testutil"
)

// newTestCore wires a Core against fake provider and catalog servers, on the
// in-process fallback backend with a temp-dir token file.
func newTestCore(t *testing.T, catalog *testutil.CatalogServer, token *testutil.TokenServer, mutate func(*Config)) *Core {
	t.Helper()

	cfg := Config{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		RedirectURL:    "http://127.0.0.1:8080/callback",
		AuthURL:        token.URL + "/authorize",
		TokenURL:       token.URL,
		CatalogBaseURL: catalog.URL,
		Environment:    "test",
		TokenFilePath:  filepath.Join(t.TempDir(), "tokens.json"),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	core, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(core.Close)

	return core
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "invalid config")
}

func TestNewSelectsFallbackBackend(t *testing.T) {
	catalog := testutil.NewCatalogServer(t)
	token := testutil.NewTokenServer(t)

	core := newTestCore(t, catalog, token, nil)
	assert.Equal(t, BackendFallback, core.Backend())
}

func TestNewFallsBackWhenDurableStoreUnreachable(t *testing.T) {
	catalog := testutil.NewCatalogServer(t)
	token := testutil.NewTokenServer(t)

	core := newTestCore(t, catalog, token, func(c *Config) {
		// Nothing listens here; startup must degrade, not fail
		c.ValkeyAddress = "127.0.0.1:1"
	})
	assert.Equal(t, BackendFallback, core.Backend())
}

func TestSessionUnauthenticated(t *testing.T) {
	catalog := testutil.NewCatalogServer(t)
	token := testutil.NewTokenServer(t)
	core := newTestCore(t, catalog, token, nil)

	session, err := core.Session(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", session.UserID)
	assert.False(t, session.Authenticated)
	assert.Empty(t, session.ExpiresAt)
}

func TestSessionAuthenticated(t *testing.T) {
	catalog := testutil.NewCatalogServer(t)
	token := testutil.NewTokenServer(t)
	core := newTestCore(t, catalog, token, nil)

	record := testutil.FreshTokenRecord()
	require.NoError(t, core.tokens.SaveTokens(context.Background(), "alice", record))

	session, err := core.Session(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, session.Authenticated)
	assert.Equal(t, record.Scope, session.Scope)

	expires, err := time.Parse(time.RFC3339, session.ExpiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, record.ExpiresAt, expires, time.Second)
}

func TestSessionRequiresUserID(t *testing.T) {
	catalog := testutil.NewCatalogServer(t)
	token := testutil.NewTokenServer(t)
	core := newTestCore(t, catalog, token, nil)

	_, err := core.Session(context.Background(), "")
	assert.ErrorContains(t, err, "user ID")
}

func TestHealthCheck(t *testing.T) {
	catalog := testutil.NewCatalogServer(t)
	token := testutil.NewTokenServer(t)
	core := newTestCore(t, catalog, token, nil)

	assert.NoError(t, core.HealthCheck(context.Background()))
}

func TestInstrumentedOperations(t *testing.T) {
	catalog := testutil.NewCatalogServer(t)
	catalog.HandleJSON("/me", testProfile("alice"))
	token := testutil.NewTokenServer(t)
	core := newTestCore(t, catalog, token, nil)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "tunegate-test",
		Enabled:     true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	core.SetInstrumentation(inst)

	// The traced and metered paths behave identically to the bare ones
	start, err := core.BeginLogin(context.Background())
	require.NoError(t, err)

	state := stateFromAuthURL(t, start.AuthorizationURL)
	result, err := core.HandleCallback(context.Background(), state, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "alice", result.UserID)

	session, err := core.Session(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, session.Authenticated)

	profile, err := core.CurrentUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.ID)

	// Second read comes from the cache on the instrumented path too
	_, err = core.CurrentUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.CallsTo("/me"), "callback identity fetch plus one catalog call")
}

func TestCloseIsIdempotent(t *testing.T) {
	catalog := testutil.NewCatalogServer(t)
	token := testutil.NewTokenServer(t)
	core := newTestCore(t, catalog, token, nil)

	core.Close()
	core.Close()
}

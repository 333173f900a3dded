package tunegate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tunegate/tunegate/cache"
	"github.com/tunegate/tunegate/instrumentation"
	"github.com/tunegate/tunegate/provider"
	"github.com/tunegate/tunegate/ratelimit"
	"github.com/tunegate/tunegate/security"
	"github.com/tunegate/tunegate/state"
	"github.com/tunegate/tunegate/storage"
	"github.com/tunegate/tunegate/storage/file"
	"github.com/tunegate/tunegate/storage/memory"
	"github.com/tunegate/tunegate/storage/valkey"
)

// Storage backend names, reported by Backend() and in logs
const (
	BackendValkey   = "valkey"
	BackendFallback = "fallback"
)

// DefaultCatalogTimeout bounds each upstream catalog API call
const DefaultCatalogTimeout = 15 * time.Second

// Core is the OAuth delegation core: it owns the login flow, token storage,
// and the rate-limited, cached upstream catalog client.
//
// The storage backend is selected once at startup: if a Valkey address is
// configured and answers a time-boxed ping, every component runs durable;
// otherwise everything degrades consistently for the lifetime of the
// process: encrypted in-memory for state, cache, and rate windows, a
// per-environment file for tokens. No per-call flapping.
type Core struct {
	config Config
	logger *slog.Logger

	provider provider.Provider
	states   *state.Manager
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	tokens   storage.TokenStore
	auditor  *security.Auditor

	backend     string
	valkeyStore *valkey.Store
	memoryStore *memory.Store

	inst *instrumentation.Instrumentation

	// refreshGroup coalesces concurrent refreshes per user
	refreshGroup singleflight.Group

	// httpClient issues upstream catalog calls
	httpClient     *http.Client
	catalogBaseURL string

	closeOnce sync.Once
}

// New creates and wires the delegation core. The returned Core is ready for
// concurrent use.
func New(cfg Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.logger()

	encryptor, err := newEncryptor(cfg, logger)
	if err != nil {
		return nil, err
	}

	prov, err := provider.NewClient(provider.Config{
		Name:         cfg.ProviderName,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		ShowDialog:   cfg.ShowDialog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}

	c := &Core{
		config:         cfg,
		logger:         logger,
		provider:       prov,
		auditor:        security.NewAuditor(logger, cfg.AuditEnabled),
		catalogBaseURL: cfg.CatalogBaseURL,
	}

	catalogTimeout := cfg.CatalogTimeout
	if catalogTimeout <= 0 {
		catalogTimeout = DefaultCatalogTimeout
	}
	c.httpClient = &http.Client{Timeout: catalogTimeout}

	stateStore, cacheStore, windowStore, tokenStore, err := c.selectBackend(cfg, encryptor, logger)
	if err != nil {
		return nil, err
	}

	c.tokens = tokenStore
	c.states = state.New(stateStore, cfg.StateTTL)
	c.states.SetLogger(logger)

	c.limiter = ratelimit.New(windowStore, ratelimit.Config{
		Rules:         cfg.RateRules,
		DefaultLimit:  cfg.RateDefaultLimit,
		DefaultWindow: cfg.RateDefaultWindow,
		GlobalLimit:   cfg.RateGlobalLimit,
		GlobalWindow:  cfg.RateGlobalWindow,
		Logger:        logger,
	})

	c.cache = cache.New(cacheStore, cache.Config{
		TTLs:   cfg.CacheTTLs,
		Logger: logger,
	})

	logger.Info("Delegation core initialized",
		"backend", c.backend,
		"provider", prov.Name(),
		"environment", cfg.environment())

	return c, nil
}

// newEncryptor builds the at-rest encryptor, generating an ephemeral key
// when none is configured.
func newEncryptor(cfg Config, logger *slog.Logger) (*security.Encryptor, error) {
	key := cfg.EncryptionKey
	if len(key) == 0 {
		generated, err := security.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral encryption key: %w", err)
		}
		key = generated
		logger.Warn("No encryption key configured, generated an ephemeral key; " +
			"pending logins and stored state will not survive a restart")
	}

	encryptor, err := security.NewEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	return encryptor, nil
}

// selectBackend probes the durable store once and wires every component to
// the same backend. The probe inside valkey.New is time-boxed, so startup
// never hangs on an unreachable store.
func (c *Core) selectBackend(cfg Config, encryptor *security.Encryptor, logger *slog.Logger) (
	storage.StateStore, storage.CacheStore, storage.RateWindowStore, storage.TokenStore, error,
) {
	if cfg.ValkeyAddress != "" {
		store, err := valkey.New(valkey.Config{
			Address:   cfg.ValkeyAddress,
			Password:  cfg.ValkeyPassword,
			DB:        cfg.ValkeyDB,
			KeyPrefix: cfg.ValkeyPrefix,
			Logger:    logger,
		})
		if err == nil {
			store.SetEncryptor(encryptor)
			c.backend = BackendValkey
			c.valkeyStore = store
			return store, store, store, store, nil
		}
		logger.Warn("Durable store unreachable, degrading to in-process fallback",
			"address", cfg.ValkeyAddress,
			"error", err)
		c.auditor.LogStorageDegraded(err.Error())
	}

	mem := memory.New()
	mem.SetLogger(logger)
	mem.SetEncryptor(encryptor)
	c.backend = BackendFallback
	c.memoryStore = mem

	// Tokens still survive restarts via the per-environment file store
	tokenStore, err := file.New(cfg.tokenFilePath())
	if err != nil {
		mem.Stop()
		return nil, nil, nil, nil, fmt.Errorf("failed to open file token store: %w", err)
	}
	tokenStore.SetLogger(logger)
	tokenStore.SetEncryptor(encryptor)

	return mem, mem, mem, tokenStore, nil
}

// SetInstrumentation attaches OpenTelemetry instrumentation to the core and
// its storage backend.
func (c *Core) SetInstrumentation(inst *instrumentation.Instrumentation) {
	c.inst = inst
	if c.memoryStore != nil {
		c.memoryStore.SetInstrumentation(inst)
	}
}

// Backend reports which storage backend was selected at startup.
func (c *Core) Backend() string {
	return c.backend
}

// Provider returns the configured identity provider client.
func (c *Core) Provider() provider.Provider {
	return c.provider
}

// HealthCheck verifies the provider is reachable. Storage health is implied
// by the backend selection at startup; a degraded backend is not unhealthy.
func (c *Core) HealthCheck(ctx context.Context) error {
	return c.provider.HealthCheck(ctx)
}

// Session reports the authentication status for a user without exposing
// credential material.
func (c *Core) Session(ctx context.Context, userID string) (*SessionInfo, error) {
	if userID == "" {
		return nil, ErrInvalidRequest("user ID is required")
	}

	ctx, span := c.startSpan(ctx, "auth.session")
	defer instrumentation.EndSpan(span)
	instrumentation.AddStorageAttributes(span, "get_tokens", c.backend)

	record, err := c.tokens.GetTokens(ctx, userID)
	if err != nil {
		// Absent or corrupt both mean "not authenticated", never a crash
		return &SessionInfo{UserID: userID, Authenticated: false}, nil
	}

	return &SessionInfo{
		UserID:        userID,
		Authenticated: true,
		ExpiresAt:     record.ExpiresAt.Format(time.RFC3339),
		Scope:         record.Scope,
	}, nil
}

// Close releases the core's resources: the storage connection and any
// cleanup goroutines. Idempotent.
func (c *Core) Close() {
	c.closeOnce.Do(func() {
		if c.valkeyStore != nil {
			c.valkeyStore.Close()
		}
		if c.memoryStore != nil {
			c.memoryStore.Stop()
		}
		c.logger.Info("Delegation core closed")
	})
}

// metrics returns the metrics holder, or nil when instrumentation is unset
func (c *Core) metrics() *instrumentation.Metrics {
	if c.inst == nil {
		return nil
	}
	return c.inst.Metrics()
}

// startSpan opens a span when instrumentation is attached. The returned span
// may be nil; the instrumentation helpers tolerate that.
func (c *Core) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if c.inst == nil {
		return ctx, nil
	}
	return c.inst.Tracer("core").Start(ctx, name)
}

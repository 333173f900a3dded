package tunegate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tunegate/tunegate/cache"
	"github.com/tunegate/tunegate/ratelimit"
	"github.com/tunegate/tunegate/security"
)

// DefaultEnvironment scopes the file-fallback token store when no
// environment is configured
const DefaultEnvironment = "development"

// Config holds the delegation core configuration.
type Config struct {
	// Provider application credentials (all required)
	ClientID     string
	ClientSecret string

	// RedirectURL is the registered OAuth callback URL (required)
	RedirectURL string

	// AuthURL and TokenURL are the provider's endpoints (required)
	AuthURL  string
	TokenURL string

	// CatalogBaseURL is the catalog API base URL (required),
	// e.g. "https://api.example.com/v1"
	CatalogBaseURL string

	// CatalogTimeout bounds each upstream catalog call (default 15s)
	CatalogTimeout time.Duration

	// Scopes requested at login
	Scopes []string

	// ProviderName labels the provider in logs (default "catalog")
	ProviderName string

	// ShowDialog forces the provider consent screen on every login
	ShowDialog bool

	// ValkeyAddress enables the durable backend when set; absence selects
	// the in-process fallback for every component
	ValkeyAddress  string
	ValkeyPassword string
	ValkeyDB       int
	ValkeyPrefix   string

	// EncryptionKey is the 32-byte key for at-rest encryption of tokens
	// and state. When absent, an ephemeral key is generated at startup
	// with a warning, since that invalidates state across restarts.
	EncryptionKey []byte

	// Environment scopes the file-fallback token store so production and
	// non-production tokens never share a file (default "development")
	Environment string

	// TokenFilePath overrides the file-fallback location
	// (default "tokens-{environment}.json" in the working directory)
	TokenFilePath string

	// StateTTL bounds how long an issued state token stays valid
	// (default 10 minutes)
	StateTTL time.Duration

	// RateRules configures per-endpoint outbound budgets; unset fields
	// use the ratelimit package defaults
	RateRules         []ratelimit.Rule
	RateDefaultLimit  int
	RateDefaultWindow time.Duration
	RateGlobalLimit   int
	RateGlobalWindow  time.Duration

	// CacheTTLs overrides per-resource-type response cache lifetimes
	CacheTTLs map[cache.ResourceType]time.Duration

	// AuditEnabled turns on security audit logging (default off)
	AuditEnabled bool

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Validate checks the configuration for required fields and coherent values.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect URL is required")
	}
	if c.AuthURL == "" {
		return fmt.Errorf("auth URL is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("token URL is required")
	}
	if c.CatalogBaseURL == "" {
		return fmt.Errorf("catalog base URL is required")
	}

	if len(c.EncryptionKey) > 0 && len(c.EncryptionKey) != security.KeySize {
		return fmt.Errorf("encryption key must be %d bytes, got %d", security.KeySize, len(c.EncryptionKey))
	}

	if c.StateTTL < 0 {
		return fmt.Errorf("state TTL cannot be negative")
	}

	for _, rule := range c.RateRules {
		if rule.Prefix == "" {
			return fmt.Errorf("rate rule prefix cannot be empty")
		}
		if rule.Limit <= 0 || rule.Window <= 0 {
			return fmt.Errorf("rate rule %q needs a positive limit and window", rule.Prefix)
		}
	}

	return nil
}

// environment returns the configured environment or the default
func (c *Config) environment() string {
	if c.Environment == "" {
		return DefaultEnvironment
	}
	return c.Environment
}

// tokenFilePath returns the file-fallback location, scoped per environment
func (c *Config) tokenFilePath() string {
	if c.TokenFilePath != "" {
		return c.TokenFilePath
	}
	return fmt.Sprintf("tokens-%s.json", c.environment())
}

// logger returns the configured logger or the default
func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

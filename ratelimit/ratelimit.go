// Package ratelimit implements a per-user sliding-window budget on outbound
// catalog API calls, with a per-endpoint limit chosen by longest path-prefix
// match and an always-applied global budget.
//
// The limiter is a protective layer, not a billing system: when its storage
// backend is unavailable, it fails open and admits the request rather than
// blocking all traffic.
package ratelimit

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tunegate/tunegate/internal/util"
	"github.com/tunegate/tunegate/storage"
)

// Default budgets applied when no rule matches an endpoint.
const (
	DefaultLimit  = 30
	DefaultWindow = 30 * time.Second

	// DefaultGlobalLimit caps aggregate per-user throughput across all
	// endpoints regardless of per-endpoint allowance.
	DefaultGlobalLimit  = 100
	DefaultGlobalWindow = 30 * time.Second
)

// Rule is a per-endpoint budget matched by path prefix.
type Rule struct {
	// Prefix is the normalized endpoint path prefix, e.g. "/search"
	Prefix string

	Limit  int
	Window time.Duration
}

// Config holds limiter configuration.
type Config struct {
	// Rules are per-endpoint budgets. The longest matching prefix wins;
	// endpoints matching no rule use the default budget.
	Rules []Rule

	// DefaultLimit and DefaultWindow apply to unmatched endpoints
	DefaultLimit  int
	DefaultWindow time.Duration

	// GlobalLimit and GlobalWindow cap aggregate per-user throughput
	GlobalLimit  int
	GlobalWindow time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed bool

	// Remaining is min(endpoint remaining, global remaining) after this check
	Remaining int

	// ResetTime is when the endpoint window has fully slid past now
	ResetTime time.Time

	// Limit is the endpoint limit that applied
	Limit int
}

// Limiter enforces sliding-window budgets backed by a RateWindowStore.
type Limiter struct {
	store storage.RateWindowStore

	// rules sorted by descending prefix length so the first match wins
	rules []Rule

	defaultRule  Rule
	globalLimit  int
	globalWindow time.Duration
	logger       *slog.Logger
}

// New creates a limiter from config. Zero or negative config values fall
// back to package defaults.
func New(store storage.RateWindowStore, cfg Config) *Limiter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	defaultWindow := cfg.DefaultWindow
	if defaultWindow <= 0 {
		defaultWindow = DefaultWindow
	}

	globalLimit := cfg.GlobalLimit
	if globalLimit <= 0 {
		globalLimit = DefaultGlobalLimit
	}
	globalWindow := cfg.GlobalWindow
	if globalWindow <= 0 {
		globalWindow = DefaultGlobalWindow
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if r.Limit <= 0 || r.Window <= 0 {
			continue
		}
		r.Prefix = util.NormalizePath(r.Prefix)
		rules = append(rules, r)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Prefix) > len(rules[j].Prefix)
	})

	return &Limiter{
		store: store,
		rules: rules,
		defaultRule: Rule{
			Limit:  defaultLimit,
			Window: defaultWindow,
		},
		globalLimit:  globalLimit,
		globalWindow: globalWindow,
		logger:       logger,
	}
}

// SetLogger sets a custom logger
func (l *Limiter) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

// ruleFor returns the budget for an endpoint: the longest configured prefix
// that matches, or the default rule.
func (l *Limiter) ruleFor(endpoint string) Rule {
	normalized := util.NormalizePath(endpoint)
	for _, r := range l.rules {
		if strings.HasPrefix(normalized, r.Prefix) {
			return r
		}
	}
	return l.defaultRule
}

// CheckLimit checks and, when allowed, admits one request for (endpoint,
// userID). Check-then-admit is atomic per key inside the store, so two
// concurrent requests can never both slip past a nearly-full window.
//
// A store failure admits the request (fail open) with the full budget
// reported as remaining.
func (l *Limiter) CheckLimit(ctx context.Context, endpoint, userID string) (*Result, error) {
	rule := l.ruleFor(endpoint)
	now := time.Now()

	result, err := l.store.AdmitWindowed(ctx,
		l.endpointKey(userID, rule),
		l.globalKey(userID),
		storage.WindowRequest{
			Now:            now,
			EndpointLimit:  rule.Limit,
			EndpointWindow: rule.Window,
			GlobalLimit:    l.globalLimit,
			GlobalWindow:   l.globalWindow,
		})
	if err != nil {
		l.logger.Warn("Rate limit store unavailable, failing open",
			"endpoint", endpoint,
			"error", err)
		return &Result{
			Allowed:   true,
			Remaining: rule.Limit,
			ResetTime: now.Add(rule.Window),
			Limit:     rule.Limit,
		}, nil
	}

	remaining := min(rule.Limit-result.EndpointCount, l.globalLimit-result.GlobalCount)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   result.Allowed,
		Remaining: remaining,
		ResetTime: now.Add(rule.Window),
		Limit:     rule.Limit,
	}, nil
}

// endpointKey scopes a window to (user, matched rule). Keying by the matched
// prefix rather than the raw path means all endpoints under one rule share
// that rule's budget.
func (l *Limiter) endpointKey(userID string, rule Rule) string {
	prefix := rule.Prefix
	if prefix == "" {
		prefix = "default"
	}
	return "rl:" + userID + ":" + prefix
}

// globalKey scopes the aggregate per-user window
func (l *Limiter) globalKey(userID string) string {
	return "rl:" + userID + ":global"
}

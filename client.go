package tunegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tunegate/tunegate/cache"
	"github.com/tunegate/tunegate/instrumentation"
	"github.com/tunegate/tunegate/security"
	"github.com/tunegate/tunegate/storage"
)

// maxResponseBody caps how much of an upstream response is read (1MB).
// Catalog responses are paginated; anything larger indicates a misbehaving
// upstream.
const maxResponseBody = 1 << 20

// refreshAheadWindow refreshes tokens that are about to lapse, so a token
// expiring mid-request does not burn the single 401 retry.
const refreshAheadWindow = 30 * time.Second

// requestOptions describes one upstream catalog call.
type requestOptions struct {
	endpoint string
	method   string
	params   map[string]string
	body     any
	userID   string
	useCache bool
	resource cache.ResourceType
}

// request performs an authenticated, rate-limited, cached call against the
// catalog API.
//
// Protocol: rate-limit check, cache consult (GET only), token ensure with
// transparent refresh, the HTTP call itself, then a single full retry on
// 401 with caching disabled. Success on a cacheable GET writes through to
// the response cache. Network-level failures propagate immediately with no
// automatic retry.
func (c *Core) request(ctx context.Context, opts requestOptions) ([]byte, error) {
	if opts.userID == "" {
		return nil, ErrInvalidRequest("user ID is required")
	}

	ctx, span := c.startSpan(ctx, "upstream.request")
	defer instrumentation.EndSpan(span)

	if err := c.admit(ctx, opts); err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	cacheable := opts.useCache && opts.method == http.MethodGet
	if cacheable {
		if payload, ok := c.cache.Get(ctx, opts.userID, opts.endpoint, opts.params); ok {
			if m := c.metrics(); m != nil {
				m.RecordCacheHit(ctx, opts.endpoint)
			}
			instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCacheHit, true))
			instrumentation.SetSpanSuccess(span)
			return payload, nil
		}
		if m := c.metrics(); m != nil {
			m.RecordCacheMiss(ctx, opts.endpoint)
		}
	}

	payload, status, err := c.authenticatedCall(ctx, opts)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	// A 401 despite the local expiry check passing means clock skew or
	// remote revocation: force-expire the record so the retry refreshes,
	// then run the full sequence exactly once more with caching disabled.
	// The retry is a second upstream call, so it spends rate budget too.
	if status == http.StatusUnauthorized {
		c.forceExpire(ctx, opts.userID)

		if err := c.admit(ctx, opts); err != nil {
			instrumentation.RecordError(span, err)
			return nil, err
		}

		payload, status, err = c.authenticatedCall(ctx, opts)
		if err != nil {
			instrumentation.RecordError(span, err)
			return nil, err
		}
		if status == http.StatusUnauthorized {
			instrumentation.SetSpanError(span, "upstream rejected a refreshed token")
			return nil, ErrAuthExpired("upstream rejected a freshly refreshed token")
		}
	}

	instrumentation.AddUpstreamAttributes(span, opts.method, opts.endpoint, status)

	if status < 200 || status > 299 {
		instrumentation.SetSpanError(span, fmt.Sprintf("upstream returned %d", status))
		return nil, &UpstreamError{
			Endpoint:   opts.endpoint,
			StatusCode: status,
			Body:       string(payload),
		}
	}

	if cacheable {
		c.cache.Set(ctx, opts.userID, opts.endpoint, opts.params, payload, opts.resource)
	}

	instrumentation.SetSpanSuccess(span)
	return payload, nil
}

// admit spends one unit of the endpoint and global rate budgets, converting
// a rejection into a RateLimitError.
func (c *Core) admit(ctx context.Context, opts requestOptions) error {
	limit, err := c.limiter.CheckLimit(ctx, opts.endpoint, opts.userID)
	if err != nil {
		return ErrServerError(fmt.Sprintf("rate limit check failed: %v", err))
	}
	if !limit.Allowed {
		c.auditor.LogRateLimitExceeded(opts.userID, opts.endpoint)
		if m := c.metrics(); m != nil {
			m.RecordRateLimitExceeded(ctx, opts.endpoint)
		}
		return &RateLimitError{
			Endpoint:  opts.endpoint,
			Limit:     limit.Limit,
			ResetTime: limit.ResetTime,
		}
	}
	return nil
}

// authenticatedCall ensures a valid token and issues one HTTP call.
// Returns the response body and status; transport failures return an error.
func (c *Core) authenticatedCall(ctx context.Context, opts requestOptions) ([]byte, int, error) {
	record, err := c.ensureToken(ctx, opts.userID)
	if err != nil {
		return nil, 0, err
	}

	req, err := c.buildRequest(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+record.AccessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream call to %s failed: %w", opts.endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read upstream response from %s: %w", opts.endpoint, err)
	}

	if m := c.metrics(); m != nil {
		m.RecordUpstreamCall(ctx, opts.endpoint, resp.StatusCode,
			float64(time.Since(start).Milliseconds()))
	}

	return payload, resp.StatusCode, nil
}

// catalogURL joins the configured base URL with an endpoint path.
func (c *Core) catalogURL(endpoint string) string {
	return strings.TrimRight(c.catalogBaseURL, "/") + endpoint
}

// buildRequest assembles the HTTP request: params become the query string
// for GET, the body is JSON-encoded otherwise.
func (c *Core) buildRequest(ctx context.Context, opts requestOptions) (*http.Request, error) {
	u := c.catalogURL(opts.endpoint)

	var body io.Reader
	if opts.body != nil {
		data, err := json.Marshal(opts.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	if len(opts.params) > 0 && opts.method == http.MethodGet {
		query := url.Values{}
		for name, value := range opts.params {
			query.Set(name, value)
		}
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, opts.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	if opts.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// ensureToken returns a currently valid token record for the user,
// refreshing (and persisting) it when expired.
func (c *Core) ensureToken(ctx context.Context, userID string) (*storage.TokenRecord, error) {
	record, err := c.tokens.GetTokens(ctx, userID)
	if err != nil {
		// Absent and corrupt records both read as "not authenticated"
		return nil, ErrNotAuthenticated("no stored credentials, login required")
	}

	if !record.Expired(time.Now()) && !security.IsExpiringSoon(record.ExpiresAt, refreshAheadWindow) {
		return record, nil
	}

	return c.refreshTokens(ctx, userID)
}

// refreshTokens performs the refresh-token exchange for a user. Concurrent
// refreshes for the same user are coalesced: one provider call serves every
// waiter.
func (c *Core) refreshTokens(ctx context.Context, userID string) (*storage.TokenRecord, error) {
	value, err, _ := c.refreshGroup.Do(userID, func() (any, error) {
		// Re-read inside the flight: a just-finished refresh by another
		// caller already produced a valid record
		record, err := c.tokens.GetTokens(ctx, userID)
		if err != nil {
			return nil, ErrNotAuthenticated("no stored credentials, login required")
		}
		if !record.Expired(time.Now()) && !security.IsExpiringSoon(record.ExpiresAt, refreshAheadWindow) {
			return record, nil
		}

		if record.RefreshToken == "" {
			return nil, ErrAuthExpired("access token expired and no refresh token is held")
		}

		refreshed, refreshErr := c.provider.Refresh(ctx, record.RefreshToken)
		if refreshErr != nil {
			c.auditor.LogRefreshFailed(userID, refreshErr.Error())
			if m := c.metrics(); m != nil {
				m.RecordTokenRefresh(ctx, false)
			}
			return nil, ErrAuthExpired(fmt.Sprintf("token refresh rejected: %v", refreshErr))
		}

		// Retain the prior refresh token when the provider omits a new one
		merged := record.Merge(refreshed)

		if saveErr := c.tokens.SaveTokens(ctx, userID, merged); saveErr != nil {
			// The refreshed token is still usable for this request
			c.logger.Warn("Failed to persist refreshed tokens",
				"user_id_present", userID != "",
				"error", saveErr)
		}

		rotated := refreshed.RefreshToken != "" && refreshed.RefreshToken != record.RefreshToken
		c.auditor.LogTokenRefreshed(userID, rotated)
		if m := c.metrics(); m != nil {
			m.RecordTokenRefresh(ctx, true)
		}

		return merged, nil
	})
	if err != nil {
		return nil, err
	}

	return value.(*storage.TokenRecord), nil
}

// forceExpire rewrites the user's record with an expiry just past, so the
// next ensureToken performs a refresh
func (c *Core) forceExpire(ctx context.Context, userID string) {
	record, err := c.tokens.GetTokens(ctx, userID)
	if err != nil {
		return
	}

	expired := record.ForceExpired(time.Now())
	if err := c.tokens.SaveTokens(ctx, userID, expired); err != nil {
		c.logger.Warn("Failed to force-expire token record", "error", err)
	}
}

package tunegate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tunegate/tunegate/instrumentation"
)

// LoginStart is the result of initiating a login: the URL to redirect the
// user to, and an attempt ID that ties subsequent audit events together.
type LoginStart struct {
	AuthorizationURL string `json:"authorization_url"`
	AttemptID        string `json:"attempt_id"`
}

// CallbackResult reports a successfully established session.
type CallbackResult struct {
	UserID    string `json:"user_id"`
	AttemptID string `json:"attempt_id"`
	Scope     string `json:"scope,omitempty"`
}

// BeginLogin starts an authorization attempt: it issues a fresh single-use
// state token and returns the provider URL the user agent must be sent to.
func (c *Core) BeginLogin(ctx context.Context) (*LoginStart, error) {
	ctx, span := c.startSpan(ctx, "auth.login")
	defer instrumentation.EndSpan(span)

	attemptID := uuid.NewString()
	instrumentation.AddFlowAttributes(span, "", attemptID)

	stateToken, err := c.states.Generate(ctx)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrServerError(fmt.Sprintf("failed to issue state token: %v", err))
	}

	authURL := c.provider.AuthorizationURL(stateToken)

	c.auditor.LogLoginInitiated("", attemptID)
	if m := c.metrics(); m != nil {
		m.RecordLoginStarted(ctx)
	}

	c.logger.Info("Login initiated", "attempt_id", attemptID)
	instrumentation.SetSpanSuccess(span)

	return &LoginStart{
		AuthorizationURL: authURL,
		AttemptID:        attemptID,
	}, nil
}

// HandleCallback completes an authorization attempt. It verifies and consumes
// the state token, exchanges the code, resolves the user's identity with the
// fresh token, and persists the credentials.
//
// A failed state check and a rejected exchange are both terminal for the
// attempt: the caller must start over with BeginLogin. A state token is
// consumed on first presentation regardless of what happens afterwards.
func (c *Core) HandleCallback(ctx context.Context, stateToken, code string) (*CallbackResult, error) {
	if stateToken == "" {
		return nil, ErrInvalidRequest("state parameter is required")
	}
	if code == "" {
		return nil, ErrInvalidRequest("code parameter is required")
	}

	ctx, span := c.startSpan(ctx, "auth.callback")
	defer instrumentation.EndSpan(span)

	attemptID := uuid.NewString()
	instrumentation.AddFlowAttributes(span, "", attemptID)

	ok, err := c.states.Verify(ctx, stateToken)
	if err != nil {
		// Unverifiable is not the same as forged, but it still rejects
		instrumentation.RecordError(span, err)
		return nil, ErrServerError(fmt.Sprintf("state verification unavailable: %v", err))
	}
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrStateValid, ok))
	if !ok {
		c.auditor.LogStateMismatch("", attemptID)
		if m := c.metrics(); m != nil {
			m.RecordStateMismatch(ctx)
			m.RecordCallbackProcessed(ctx, false)
		}
		c.logger.Warn("Callback rejected: state mismatch", "attempt_id", attemptID)
		instrumentation.SetSpanError(span, "state mismatch")
		return nil, ErrStateMismatch("state token is invalid, expired, or already used")
	}

	record, err := c.provider.ExchangeCode(ctx, code)
	if err != nil {
		c.auditor.LogExchangeFailed("", attemptID, err.Error())
		if m := c.metrics(); m != nil {
			m.RecordCodeExchange(ctx, false)
			m.RecordCallbackProcessed(ctx, false)
		}
		c.logger.Warn("Callback rejected: code exchange failed",
			"attempt_id", attemptID,
			"error", err)
		instrumentation.RecordError(span, err)
		return nil, ErrExchangeFailed(fmt.Sprintf("provider rejected the authorization code: %v", err))
	}

	// Resolve who just logged in with the token we were handed; credentials
	// are keyed per user, so no session exists until identity does
	profile, err := c.fetchOwnProfile(ctx, record.AccessToken)
	if err != nil {
		c.auditor.LogExchangeFailed("", attemptID, err.Error())
		if m := c.metrics(); m != nil {
			m.RecordCallbackProcessed(ctx, false)
		}
		return nil, ErrExchangeFailed(fmt.Sprintf("failed to resolve user identity: %v", err))
	}

	if err := c.tokens.SaveTokens(ctx, profile.ID, record); err != nil {
		if m := c.metrics(); m != nil {
			m.RecordCallbackProcessed(ctx, false)
		}
		return nil, ErrServerError(fmt.Sprintf("failed to persist credentials: %v", err))
	}

	c.auditor.LogCodeExchanged(profile.ID, attemptID, record.Scope)
	if m := c.metrics(); m != nil {
		m.RecordCodeExchange(ctx, true)
		m.RecordCallbackProcessed(ctx, true)
	}

	c.logger.Info("Session established",
		"attempt_id", attemptID,
		"scope", record.Scope)
	instrumentation.AddFlowAttributes(span, profile.ID, "")
	instrumentation.SetSpanSuccess(span)

	return &CallbackResult{
		UserID:    profile.ID,
		AttemptID: attemptID,
		Scope:     record.Scope,
	}, nil
}

// Logout removes the user's stored credentials and cached responses.
// Idempotent: logging out a user with no session succeeds.
func (c *Core) Logout(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidRequest("user ID is required")
	}

	if err := c.tokens.RemoveTokens(ctx, userID); err != nil {
		return ErrServerError(fmt.Sprintf("failed to remove credentials: %v", err))
	}

	// Cache eviction is best-effort; stale entries age out on their own
	if removed := c.cache.ClearUser(ctx, userID); removed > 0 {
		c.logger.Debug("Evicted cached responses on logout", "entries", removed)
	}

	c.auditor.LogLogout(userID)
	if m := c.metrics(); m != nil {
		m.RecordLogout(ctx)
	}

	c.logger.Info("Logout processed")
	return nil
}

// fetchOwnProfile calls the catalog's profile endpoint with a bare access
// token, outside the stored-credential path. Used once per callback, before
// any credentials exist for the user.
func (c *Core) fetchOwnProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.catalogURL("/me"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("profile request returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	var profile UserProfile
	if err := json.Unmarshal(payload, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("profile response carries no user ID")
	}

	return &profile, nil
}

package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: Never put actual sensitive values (access tokens, refresh
// tokens, authorization codes, state tokens, client secrets) in traces or
// metrics. Only record metadata: token types, expiry times, attempt IDs,
// validation results. Traces are persisted, widely readable, and replicated.
const (
	// OAuth flow attributes - metadata only
	AttrUserID       = "auth.user_id"
	AttrAttemptID    = "auth.attempt_id"
	AttrScope        = "auth.scope"
	AttrGrantType    = "auth.grant_type"
	AttrTokenType    = "auth.token_type" //nolint:gosec // type label, not a credential
	AttrExpiresIn    = "auth.expires_in"
	AttrTokenRotated = "auth.token_rotated" //nolint:gosec // boolean flag
	AttrStateValid   = "auth.state_valid"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageBackend   = "storage.backend"

	// Upstream catalog API attributes
	AttrUpstreamEndpoint = "upstream.endpoint"
	AttrUpstreamMethod   = "upstream.method"
	AttrUpstreamStatus   = "upstream.status"
	AttrCacheHit         = "upstream.cache_hit"

	// Rate limiting attributes
	AttrRateLimitAllowed   = "ratelimit.allowed"
	AttrRateLimitLimit     = "ratelimit.limit"
	AttrRateLimitRemaining = "ratelimit.remaining"
	AttrRateLimitResetTime = "ratelimit.reset_time"
)

// EndSpan ends a span (nil-safe)
func EndSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common login-flow attributes to a span (nil-safe)
func AddFlowAttributes(span trace.Span, userID, attemptID string) {
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if attemptID != "" {
		SetSpanAttributes(span, attribute.String(AttrAttemptID, attemptID))
	}
}

// AddUpstreamAttributes adds upstream call attributes to a span (nil-safe)
func AddUpstreamAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrUpstreamMethod, method),
		attribute.String(AttrUpstreamEndpoint, endpoint),
		attribute.Int(AttrUpstreamStatus, statusCode),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, backend string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageBackend, backend),
	)
}

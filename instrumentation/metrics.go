package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the delegation core
type Metrics struct {
	// OAuth Flow Metrics
	LoginStarted      metric.Int64Counter
	CallbackProcessed metric.Int64Counter
	CodeExchanged     metric.Int64Counter
	TokenRefreshed    metric.Int64Counter
	LogoutProcessed   metric.Int64Counter

	// Security Metrics
	StateMismatch             metric.Int64Counter
	RateLimitExceeded         metric.Int64Counter
	AuditEventsTotal          metric.Int64Counter
	EncryptionOperationsTotal metric.Int64Counter

	// Cache Metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Upstream Catalog API Metrics
	UpstreamCallsTotal   metric.Int64Counter
	UpstreamCallDuration metric.Float64Histogram
	UpstreamErrors       metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageTokensCount       metric.Int64ObservableGauge
	StorageStatesCount       metric.Int64ObservableGauge
	StorageCacheCount        metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// OAuth Flow Metrics
	m.LoginStarted, err = inst.flowMeter.Int64Counter(
		"auth.login.started",
		metric.WithDescription("Number of login flows initiated"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.started counter: %w", err)
	}

	m.CallbackProcessed, err = inst.flowMeter.Int64Counter(
		"auth.callback.processed",
		metric.WithDescription("Number of provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.processed counter: %w", err)
	}

	m.CodeExchanged, err = inst.flowMeter.Int64Counter(
		"auth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = inst.flowMeter.Int64Counter(
		"auth.token.refreshed",
		metric.WithDescription("Number of access tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.LogoutProcessed, err = inst.flowMeter.Int64Counter(
		"auth.logout.processed",
		metric.WithDescription("Number of logouts processed"),
		metric.WithUnit("{logout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logout.processed counter: %w", err)
	}

	// Security Metrics
	m.StateMismatch, err = inst.securityMeter.Int64Counter(
		"auth.state.mismatch",
		metric.WithDescription("Number of callbacks rejected for invalid, expired, or replayed state"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state.mismatch counter: %w", err)
	}

	m.RateLimitExceeded, err = inst.securityMeter.Int64Counter(
		"ratelimit.exceeded",
		metric.WithDescription("Number of rate limit rejections"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.AuditEventsTotal, err = inst.securityMeter.Int64Counter(
		"audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.EncryptionOperationsTotal, err = inst.securityMeter.Int64Counter(
		"encryption.operations.total",
		metric.WithDescription("Total number of encryption/decryption operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.operations.total counter: %w", err)
	}

	// Cache Metrics
	m.CacheHits, err = inst.upstreamMeter.Int64Counter(
		"cache.hits",
		metric.WithDescription("Number of response cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.hits counter: %w", err)
	}

	m.CacheMisses, err = inst.upstreamMeter.Int64Counter(
		"cache.misses",
		metric.WithDescription("Number of response cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.misses counter: %w", err)
	}

	// Upstream Catalog API Metrics
	m.UpstreamCallsTotal, err = inst.upstreamMeter.Int64Counter(
		"upstream.calls.total",
		metric.WithDescription("Total number of upstream catalog API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.calls.total counter: %w", err)
	}

	m.UpstreamCallDuration, err = inst.upstreamMeter.Float64Histogram(
		"upstream.call.duration",
		metric.WithDescription("Upstream catalog API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.call.duration histogram: %w", err)
	}

	m.UpstreamErrors, err = inst.upstreamMeter.Int64Counter(
		"upstream.errors.total",
		metric.WithDescription("Total number of upstream catalog API errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.errors.total counter: %w", err)
	}

	// Storage Metrics
	m.StorageOperationTotal, err = inst.storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = inst.storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageTokensCount, err = inst.storageMeter.Int64ObservableGauge(
		"storage.tokens.count",
		metric.WithDescription("Current number of stored token records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	m.StorageStatesCount, err = inst.storageMeter.Int64ObservableGauge(
		"storage.states.count",
		metric.WithDescription("Current number of pending state tokens"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.states.count gauge: %w", err)
	}

	m.StorageCacheCount, err = inst.storageMeter.Int64ObservableGauge(
		"storage.cache.count",
		metric.WithDescription("Current number of cached response entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.cache.count gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordLoginStarted records a login flow initiation
func (m *Metrics) RecordLoginStarted(ctx context.Context) {
	m.LoginStarted.Add(ctx, 1)
}

// RecordCallbackProcessed records a provider callback processing
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, success bool) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, success bool) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordTokenRefresh records a token refresh operation
func (m *Metrics) RecordTokenRefresh(ctx context.Context, success bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordLogout records a logout
func (m *Metrics) RecordLogout(ctx context.Context) {
	m.LogoutProcessed.Add(ctx, 1)
}

// RecordStateMismatch records a rejected callback state
func (m *Metrics) RecordStateMismatch(ctx context.Context) {
	m.StateMismatch.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit rejection
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordEncryptionOperation records an encryption/decryption operation
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string) {
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordCacheHit records a response cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, endpoint string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordCacheMiss records a response cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, endpoint string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordUpstreamCall records an upstream catalog API call
func (m *Metrics) RecordUpstreamCall(ctx context.Context, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.UpstreamCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.UpstreamCallDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))

	if statusCode >= 400 {
		errorType := "client_error"
		if statusCode >= 500 {
			errorType = "server_error"
		}
		m.UpstreamErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("error_type", errorType),
		))
	}
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

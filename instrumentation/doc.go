// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the tunegate library: metric instruments for login flows, token refreshes,
// cache effectiveness, rate limiting, and storage operations, plus named
// tracers for span creation in each layer.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "tunegate",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	core.SetInstrumentation(inst)
//
// # Available Metrics
//
// OAuth flow:
//   - auth.login.started - Login flows initiated
//   - auth.callback.processed{success} - Provider callbacks processed
//   - auth.code.exchanged{success} - Authorization codes exchanged
//   - auth.token.refreshed{success} - Access tokens refreshed
//   - auth.logout.processed - Logouts
//
// Security:
//   - auth.state.mismatch - Callbacks rejected for bad state
//   - ratelimit.exceeded{endpoint} - Rate limit rejections
//   - audit.events.total{event_type} - Audit events
//   - encryption.operations.total{operation} - Encrypt/decrypt operations
//
// Upstream catalog API:
//   - upstream.calls.total{endpoint, status} - Outbound calls
//   - upstream.call.duration{endpoint} - Call duration (ms)
//   - upstream.errors.total{endpoint, error_type} - Non-2xx responses
//   - cache.hits{endpoint} / cache.misses{endpoint} - Response cache
//
// Storage:
//   - storage.operation.total{operation, result} - Store operations
//   - storage.operation.duration{operation} - Operation duration (ms)
//   - storage.tokens.count / storage.states.count / storage.cache.count -
//     Current entry counts (observable gauges)
//
// Providers are currently no-op; wiring an exporter (OTLP, Prometheus) is a
// drop-in change inside New without touching any recording call site.
//
// SECURITY: never record credential values (tokens, codes, state) as metric
// attributes or span attributes. Only metadata.
package instrumentation

// Package storage provides interfaces and shared types for persisting OAuth
// credentials, CSRF state tokens, cached upstream responses, and rate-limit
// windows.
//
// The storage package defines the core storage interfaces used throughout the
// tunegate library:
//   - TokenStore: OAuth access/refresh token records keyed by user ID
//   - StateStore: short-lived, single-use CSRF state tokens
//   - CacheStore: time-boxed upstream response payloads
//   - RateWindowStore: sliding-window request counters
//
// Implementations are provided in subpackages:
//   - storage/memory: encrypted in-process fallback for development and degraded mode
//   - storage/valkey: Valkey/Redis-compatible durable storage for production
//   - storage/file: file-backed token persistence for single-user deployments
//
// The backend is selected once at process startup and injected into each
// component; components never re-probe the durable store per call.
package storage

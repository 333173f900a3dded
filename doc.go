// Package tunegate is an OAuth 2.0 authorization-code delegation core for
// single-page applications consuming a remote music catalog API.
//
// The SPA never sees provider credentials: tunegate holds the client secret,
// runs the authorization-code and refresh-token grants, stores tokens
// encrypted at rest, and proxies catalog calls with per-user rate limiting
// and response caching.
//
// Create a Core with New and a Config, then drive the three surfaces:
//
//   - Login flow: BeginLogin issues a single-use state token and the
//     provider redirect URL; HandleCallback verifies the state, exchanges
//     the code, resolves the user identity, and persists the credentials;
//     Logout removes them.
//
//   - Catalog operations: CurrentUser, Playlists, Playlist, PlaylistTracks,
//     and Search issue authenticated upstream calls with transparent token
//     refresh, a single retry on 401, sliding-window rate limits, and
//     per-user response caching.
//
//   - Introspection: Session reports authentication status without exposing
//     credential material; HealthCheck probes the provider.
//
// Storage is selected once at startup: a reachable Valkey runs everything
// durable, otherwise the core degrades to an encrypted in-memory store with
// a per-environment token file. Optional OpenTelemetry instrumentation
// attaches via SetInstrumentation.
package tunegate

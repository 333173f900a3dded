// Package valkey provides a Valkey-backed implementation of all storage
// interfaces. It is the durable backend: user credentials, CSRF state
// tokens, cached upstream responses, and rate-limit windows all survive
// process restarts and are shared across replicas.
//
// Atomicity for security-critical operations (single-use state consumption,
// sliding-window admission) is guaranteed by Lua scripts, so concurrent
// callers across replicas cannot replay a state token or overshoot a rate
// limit. Expiry is delegated to key TTLs wherever possible.
//
// Credentials and state tokens are encrypted at rest when an encryptor is
// configured; state keys carry only a SHA-256 digest of the token value.
package valkey

// Package memory provides an in-memory implementation of all storage
// interfaces. It serves as the process-local fallback when no durable store
// is configured or reachable, and is also used in tests.
//
// State tokens and OAuth credentials are encrypted at rest when an encryptor
// is set, so secrets do not sit in plaintext where process inspection could
// recover them. Contents are lost on restart: the fallback only needs to
// bridge the short OAuth redirect window or serve as degraded-mode token
// storage.
package memory

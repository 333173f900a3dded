// Package security provides security primitives for the tunegate core:
// AEAD encryption for at-rest state and token material, expiry checks with
// clock-skew tolerance, and audit logging with PII protection.
package security

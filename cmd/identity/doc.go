// Package identity implements Carelink's identity foundation.
//
// It contains the canonical security principal (role, active flag, password
// hash), security primitives (ULID generation, password hashing), and the
// store boundary used by the HTTP and WebSocket layers.
//
// This package is intentionally dependency-light and security-first.
package identity

// Package token provides token digest primitives for Carelink.
//
// It is the single source of truth for how refresh credentials and
// blacklisted access credentials are hashed before storage. Plain token
// strings are never persisted; only these digests are.
//
// Design goals:
// - Default dev/back-compat mode: SHA-256(token) when no HMAC key is configured.
// - Production-enforced mode: HMAC-SHA256(token, key) when policy requires it.
// - Stable 64-char hex output for storage and constant-time comparison.
//
// Environment:
// - CARELINK_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token

// Package token implements Carelink's token lifecycle.
//
// It issues credential pairs (short-lived PASETO v4.public access token +
// opaque single-use refresh credential), validates access tokens against a
// revocation blacklist, rotates refresh credentials with winner-take-all
// semantics under concurrency, and garbage-collects expired state.
//
// Plain refresh tokens are never persisted; only their 64-char hex digests
// are (see cmd/security/token).
package token

// Package token signs and verifies tally's bearer tokens and fingerprints refresh tokens.
//
// Tokens are HS256 JWTs carrying {id, email} plus registered claims (iss, iat, nbf, exp, jti).
// Access and refresh tokens share one shape and differ only in lifetime.
//
// Refresh tokens are never stored in clear: callers persist Fingerprint(token), a 64-char hex
// HMAC-SHA256 keyed by a sub-key derived from the signing secret, and compare with EqualHex.
package token

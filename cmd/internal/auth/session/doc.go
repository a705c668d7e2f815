// Package session implements tally's session lifecycle.
//
// Login mints an access/refresh pair of HS256 JWTs bound to {id, email}. Only the
// refresh token's fingerprint is persisted, on the user record, so at most one
// refresh token per user is valid at a time. RefreshTokens rotates that token with a
// compare-and-swap and Logout clears it. Access tokens are stateless.
//
// Transport (HTTP/WS) integration is out of scope here.
package session

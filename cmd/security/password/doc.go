// Package password hashes and verifies user passwords with bcrypt.
//
// It includes:
// - a small Policy (length bounds plus an optional very-weak pattern check)
// - Hash / Verify helpers that treat stored hashes as untrusted input
//
// bcrypt only reads the first 72 bytes of a password, so MaxBytes is capped there.
package password

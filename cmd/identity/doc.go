// Package identity owns tally's users and groups.
//
// It holds the Credential Store boundary (users, bcrypt hashes, the single refresh-token
// fingerprint per user) in three interchangeable backends, plus a small Service for
// registration and group membership.
package identity

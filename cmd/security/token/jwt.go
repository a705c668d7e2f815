package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Subject identifies the user a token is minted for.
type Subject struct {
	UserID string
	Email  string
}

// Claims is the JWT payload. The id/email names match what clients already decode.
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Signer mints and verifies HS256 tokens.
type Signer struct {
	key    []byte
	fpKey  []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// SignerOption customizes a Signer.
type SignerOption func(*Signer)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSigner validates secret and returns a Signer.
func NewSigner(secret, issuer string, leeway time.Duration, opts ...SignerOption) (*Signer, error) {
	key, err := CheckKey(secret, MinKeyBytes)
	if err != nil {
		return nil, err
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, fmt.Errorf("token: issuer is required")
	}
	if leeway < 0 {
		leeway = 0
	}

	s := &Signer{
		key:    key,
		fpKey:  []byte(HashHMACSHA256Hex("refresh-fingerprint/v1", key)),
		issuer: issuer,
		leeway: leeway,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Sign mints a token for sub that expires ttl from now.
func (s *Signer) Sign(sub Subject, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return "", time.Time{}, fmt.Errorf("token: subject user id is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("token: ttl must be > 0")
	}

	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)

	claims := Claims{
		ID:    sub.UserID,
		Email: sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// jti keeps two tokens minted in the same second distinct.
			ID: uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, algorithm, issuer and time claims.
// It returns ErrExpiredToken or ErrInvalidToken; callers must not leak which.
func (s *Signer) Parse(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if claims.ID == "" || claims.ID != claims.Subject {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Fingerprint returns the storage form of a refresh token.
func (s *Signer) Fingerprint(raw string) string {
	return HashHMACSHA256Hex(raw, s.fpKey)
}

package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/security/token"
)

// Config defines the runtime configuration for the session subsystem.
// app fills it from viper (keys under auth.*).
type Config struct {
	// Issuer is the "iss" claim of every token.
	Issuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ClockSkew is the leeway applied to exp/nbf/iat during validation.
	ClockSkew time.Duration

	// JWTSecret is the HS256 signing key. It also derives the refresh fingerprint key.
	JWTSecret string
}

// DefaultConfig returns the defaults; JWTSecret must still be provided.
func DefaultConfig() Config {
	return Config{
		Issuer:          "tally",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// Validate returns an error wrapping ErrConfig when cfg cannot be used.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("%w: token ttls must be > 0", ErrConfig)
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("%w: refresh ttl must exceed access ttl", ErrConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: clock skew must be >= 0", ErrConfig)
	}
	if _, err := token.CheckKey(c.JWTSecret, token.MinKeyBytes); err != nil {
		return fmt.Errorf("%w: jwt secret: %v", ErrConfig, err)
	}
	return nil
}

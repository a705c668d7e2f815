package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptMaxBytes is the input length bcrypt actually consumes.
const bcryptMaxBytes = 72

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxBytes  int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Cost   int
	Policy Policy
}

// DefaultConfig returns bcrypt cost 10 and a six character minimum.
func DefaultConfig() Config {
	return Config{
		Cost: bcrypt.DefaultCost,
		Policy: Policy{
			MinLength:      6,
			MaxBytes:       bcryptMaxBytes,
			RejectVeryWeak: false,
		},
	}
}

// Check reports configuration errors. The app calls it once at startup.
func (c Config) Check() error {
	if c.Cost < bcrypt.MinCost || c.Cost > bcrypt.MaxCost {
		return fmt.Errorf("password: cost %d out of range [%d..%d]", c.Cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Policy.MinLength < 1 {
		return fmt.Errorf("password: min length must be >= 1")
	}
	if c.Policy.MaxBytes < 1 || c.Policy.MaxBytes > bcryptMaxBytes {
		return fmt.Errorf("password: max bytes must be in [1..%d]", bcryptMaxBytes)
	}
	if c.Policy.MinLength > c.Policy.MaxBytes {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_bytes(%d)",
			c.Policy.MinLength,
			c.Policy.MaxBytes,
		)
	}
	return nil
}

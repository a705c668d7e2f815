package api

import "time"

// Config controls HTTP API limits. app fills it from viper (keys under http.*).
type Config struct {
	// TrustProxy makes clientIP honor X-Forwarded-For / X-Real-IP.
	TrustProxy   bool
	MaxBodyBytes int64

	// Failed logins allowed per client IP within LoginIPWindow. Zero disables throttling.
	LoginIPMax    int
	LoginIPWindow time.Duration
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:  1 << 20, // 1 MiB
		LoginIPMax:    20,
		LoginIPWindow: 5 * time.Minute,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.LoginIPWindow <= 0 {
		c.LoginIPWindow = d.LoginIPWindow
	}
	if c.LoginIPMax < 0 {
		c.LoginIPMax = 0
	}
	return c
}

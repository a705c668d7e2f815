package realtime

import (
	"errors"
	"time"
)

const (
	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 8

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
)

// Config controls the websocket gateway. app fills it from viper.
type Config struct {
	// RequireAuth rejects connections without a valid access token.
	RequireAuth bool
	// RequireMembership only lets a user join the channel of their own group.
	RequireMembership bool

	OriginRequired bool
	AllowedOrigins []string
	// DevInsecure disables websocket.Accept origin verification. Dev only.
	DevInsecure bool

	SendQueueSize   int
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultConfig is secure by default: tokens required, localhost origins only.
func DefaultConfig() Config {
	return Config{
		RequireAuth:       true,
		RequireMembership: false,
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		SendQueueSize:     wsDefaultSendQueueSize,
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c Config) Validate() error {
	if c.WriteTimeout <= 0 {
		return errors.New("realtime: write timeout must be > 0")
	}
	if c.ReadIdleTimeout <= 0 {
		return errors.New("realtime: read idle timeout must be > 0")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		return errors.New("realtime: heartbeat interval and timeout must be > 0")
	}
	if c.HeartbeatTimeout >= c.HeartbeatInterval {
		return errors.New("realtime: heartbeat timeout must be shorter than the interval")
	}
	if c.RateEvents <= 0 || c.RateWindow <= 0 {
		return errors.New("realtime: rate limit must be > 0")
	}
	return nil
}

// normalized fills zero values from DefaultConfig.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}

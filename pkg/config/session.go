package config

import "fmt"

// CacheConfig configures the Redis cache tier.
type CacheConfig struct {
	// Addr is the Redis server address.
	Addr string `yaml:"addr"`

	// Password for Redis authentication (optional).
	Password string `yaml:"password,omitempty"`

	// DB is the Redis database number.
	DB int `yaml:"db,omitempty"`

	// Timeout is the per-operation timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`
}

// SetDefaults sets cache defaults.
func (c *CacheConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Timeout == 0 {
		c.Timeout = 1
	}
}

// DurableConfig configures the durable session store.
type DurableConfig struct {
	// Driver is "postgres", "sqlite", or "mysql".
	Driver string `yaml:"driver"`

	// DSN is the driver connection string.
	DSN string `yaml:"dsn"`

	// MaxConns bounds the connection pool.
	MaxConns int `yaml:"max_conns,omitempty"`

	// MaxIdle bounds idle connections.
	MaxIdle int `yaml:"max_idle,omitempty"`

	// Timeout is the per-operation timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`
}

// SetDefaults sets durable store defaults.
func (c *DurableConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && c.Driver == "sqlite" {
		c.DSN = "answerdesk.db"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 2
	}
	if c.Timeout == 0 {
		c.Timeout = 5
	}
}

// Validate validates the durable store configuration.
func (c *DurableConfig) Validate() error {
	switch c.Driver {
	case "postgres", "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported driver %q (supported: postgres, sqlite, mysql)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	return nil
}

// SessionConfig configures conversational session handling.
type SessionConfig struct {
	// TTLSeconds is the cache-tier session TTL, refreshed on each write.
	TTLSeconds int `yaml:"ttl_seconds"`

	// ContextMessages is how many recent messages are presented to LLMs.
	ContextMessages int `yaml:"context_messages"`

	// CacheRecentMessages is how many messages the cache tier retains.
	CacheRecentMessages int `yaml:"cache_recent_messages"`

	// SummaryInterval regenerates the rolling summary every N messages.
	SummaryInterval int `yaml:"summary_interval"`

	// MaxMessages ends a session when its log reaches this cap.
	MaxMessages int `yaml:"max_messages"`

	// FallbackRingSize bounds the per-session in-process buffer used when
	// the durable tier is down.
	FallbackRingSize int `yaml:"fallback_ring_size"`
}

// SetDefaults sets session defaults.
func (c *SessionConfig) SetDefaults() {
	if c.TTLSeconds == 0 {
		c.TTLSeconds = 7200
	}
	if c.ContextMessages == 0 {
		c.ContextMessages = 5
	}
	if c.CacheRecentMessages == 0 {
		c.CacheRecentMessages = 8
	}
	if c.SummaryInterval == 0 {
		c.SummaryInterval = 5
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = 200
	}
	if c.FallbackRingSize == 0 {
		c.FallbackRingSize = 20
	}
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	if c.ContextMessages > c.CacheRecentMessages {
		return fmt.Errorf("context_messages (%d) cannot exceed cache_recent_messages (%d)",
			c.ContextMessages, c.CacheRecentMessages)
	}
	if c.SummaryInterval < 2 {
		return fmt.Errorf("summary_interval must be at least 2")
	}
	return nil
}

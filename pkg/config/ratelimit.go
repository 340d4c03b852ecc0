package config

import (
	"fmt"
	"time"
)

// RateLimitConfig defines per-endpoint-class rate limits.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Backend is the counter store ("memory" or "redis").
	Backend string `yaml:"backend,omitempty"`

	// FailOpen admits requests when the backend is unreachable. Off by
	// default: an unreachable backend denies (fail-closed).
	FailOpen bool `yaml:"fail_open,omitempty"`

	// Classes maps endpoint class name to its rule.
	Classes map[string]RateLimitRule `yaml:"classes,omitempty"`
}

// RateLimitRule defines a fixed-window limit.
type RateLimitRule struct {
	// Limit is the maximum allowed requests per window.
	Limit int64 `yaml:"limit"`

	// Window is the fixed window length.
	Window Duration `yaml:"window"`
}

// IsEnabled returns true if rate limiting is enabled (the default).
func (c *RateLimitConfig) IsEnabled() bool {
	return BoolValue(c.Enabled, true)
}

// SetDefaults sets rate limit defaults per the endpoint classes the
// transport exposes.
func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Backend == "" {
		c.Backend = "redis"
	}
	if c.Classes == nil {
		c.Classes = map[string]RateLimitRule{}
	}
	defaults := map[string]RateLimitRule{
		"query":    {Limit: 100, Window: Duration(24 * time.Hour)},
		"feedback": {Limit: 50, Window: Duration(24 * time.Hour)},
		"ticket":   {Limit: 10, Window: Duration(24 * time.Hour)},
		"default":  {Limit: 100, Window: Duration(5 * time.Minute)},
	}
	for name, rule := range defaults {
		if _, ok := c.Classes[name]; !ok {
			c.Classes[name] = rule
		}
	}
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if c.Backend != "memory" && c.Backend != "redis" {
		return fmt.Errorf("invalid backend %q, must be 'memory' or 'redis'", c.Backend)
	}
	for name, rule := range c.Classes {
		if rule.Limit <= 0 {
			return fmt.Errorf("classes[%s].limit must be positive", name)
		}
		if rule.Window.Duration() <= 0 {
			return fmt.Errorf("classes[%s].window must be positive", name)
		}
	}
	if _, ok := c.Classes["default"]; !ok {
		return fmt.Errorf("classes must include 'default'")
	}
	return nil
}

// Package config defines the YAML configuration surface of the engine.
// Every section carries SetDefaults and Validate; the loader applies
// environment expansion before decoding.
package config

import "fmt"

// Config is the root configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMProviderConfig  `yaml:"llm"`
	Embedder     EmbedderConfig     `yaml:"embedder"`
	Vector       VectorConfig       `yaml:"vector"`
	Cache        CacheConfig        `yaml:"cache"`
	Durable      DurableConfig      `yaml:"durable"`
	Session      SessionConfig      `yaml:"session"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	RateLimits   RateLimitConfig    `yaml:"rate_limits"`
	Pricing      PricingConfig      `yaml:"pricing"`
	Agents       AgentsConfig       `yaml:"agents"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// SetDefaults applies defaults to all sections.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Cache.SetDefaults()
	c.Durable.SetDefaults()
	c.Session.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.RateLimits.SetDefaults()
	c.Pricing.SetDefaults()
	c.Agents.SetDefaults()
}

// Validate validates all sections.
func (c *Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"server", c.Server.Validate},
		{"llm", c.LLM.Validate},
		{"embedder", c.Embedder.Validate},
		{"vector", c.Vector.Validate},
		{"durable", c.Durable.Validate},
		{"session", c.Session.Validate},
		{"retrieval", c.Retrieval.Validate},
		{"orchestrator", c.Orchestrator.Validate},
		{"rate_limits", c.RateLimits.Validate},
		{"agents", c.Agents.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	return nil
}

// MetricsConfig configures the observability surface.
type MetricsConfig struct {
	// Enabled controls the OTel meter provider and /metrics endpoint.
	Enabled bool `yaml:"enabled"`
}

// PricingConfig points at the model price table.
type PricingConfig struct {
	// Path is the YAML price table file.
	Path string `yaml:"path"`

	// WatchEnabled reloads the table on file change. Emitted metrics
	// records keep the price frozen at recording time regardless.
	WatchEnabled bool `yaml:"watch"`
}

// SetDefaults sets pricing defaults.
func (c *PricingConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "prices.yaml"
	}
}

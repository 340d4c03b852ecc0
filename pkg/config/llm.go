package config

import "fmt"

// LLMProviderConfig configures the chat-completion provider.
type LLMProviderConfig struct {
	// Host is the API base URL (OpenAI-compatible).
	Host string `yaml:"host"`

	// APIKey authenticates requests. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key"`

	// Model is the chat model id.
	Model string `yaml:"model"`

	// MaxTokens bounds completion length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Temperature for sampling.
	Temperature float64 `yaml:"temperature,omitempty"`

	// Timeout is the per-call timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries bounds transport retries.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// SetDefaults sets LLM provider defaults.
func (c *LLMProviderConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate validates the LLM provider configuration.
func (c *LLMProviderConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// EmbedderConfig configures the embeddings provider.
type EmbedderConfig struct {
	// Host is the API base URL (OpenAI-compatible).
	Host string `yaml:"host"`

	// APIKey authenticates requests.
	APIKey string `yaml:"api_key"`

	// Model is the embedding model id. Part of the embedding cache key,
	// so a model switch invalidates cached vectors.
	Model string `yaml:"model"`

	// Dimension is the vector dimension.
	Dimension int `yaml:"dimension,omitempty"`

	// Timeout is the per-call timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries bounds transport retries.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// SetDefaults sets embedder defaults.
func (c *EmbedderConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		switch c.Model {
		case "text-embedding-3-large":
			c.Dimension = 3072
		default:
			c.Dimension = 1536
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate validates the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}

// VectorConfig configures the vector index provider.
type VectorConfig struct {
	// Provider is "qdrant" or "chromem" (embedded, dev/test).
	Provider string `yaml:"provider"`

	// Collection is the KB chunk collection name.
	Collection string `yaml:"collection"`

	// Host is the Qdrant server hostname.
	Host string `yaml:"host,omitempty"`

	// Port is the Qdrant gRPC port (default: 6334).
	Port int `yaml:"port,omitempty"`

	// APIKey for authenticated access (optional).
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS connections.
	UseTLS bool `yaml:"use_tls,omitempty"`

	// Timeout is the per-search timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`
}

// SetDefaults sets vector provider defaults.
func (c *VectorConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "qdrant"
	}
	if c.Collection == "" {
		c.Collection = "kb_chunks"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Timeout == 0 {
		c.Timeout = 10
	}
}

// Validate validates the vector configuration.
func (c *VectorConfig) Validate() error {
	switch c.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unsupported provider %q (supported: qdrant, chromem)", c.Provider)
	}
	return nil
}

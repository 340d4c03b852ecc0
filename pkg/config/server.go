package config

import "fmt"

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind.
	Host string `yaml:"host"`

	// Port to listen on.
	Port int `yaml:"port"`

	// ReadTimeoutSeconds for request reads.
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds,omitempty"`

	// WriteTimeoutSeconds for response writes. Must exceed the
	// orchestrator deadline.
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds,omitempty"`
}

// SetDefaults sets server defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = 30
	}
	if c.WriteTimeoutSeconds == 0 {
		c.WriteTimeoutSeconds = 90
	}
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in [1,65535], got %d", c.Port)
	}
	return nil
}

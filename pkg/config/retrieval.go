package config

import "fmt"

// RetrievalConfig configures embedding and vector search.
type RetrievalConfig struct {
	// SimilarityThreshold is the minimum similarity for a chunk to count
	// as a hit during progressive fallback. Range [0,1].
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// TopK is the number of chunks (or expanded parents) returned.
	TopK int `yaml:"top_k"`

	// MaxExpandedChunks bounds parent expansion.
	MaxExpandedChunks int `yaml:"max_expanded_chunks"`

	// EmbedCacheSize is the LRU entry bound for the embedding cache.
	EmbedCacheSize int `yaml:"embed_cache_size"`

	// EmbedCacheTTLSeconds is the embedding cache entry TTL.
	EmbedCacheTTLSeconds int `yaml:"embed_cache_ttl_seconds"`
}

// SetDefaults sets retrieval defaults.
func (c *RetrievalConfig) SetDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.70
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.MaxExpandedChunks == 0 {
		c.MaxExpandedChunks = 12
	}
	if c.EmbedCacheSize == 0 {
		c.EmbedCacheSize = 1024
	}
	if c.EmbedCacheTTLSeconds == 0 {
		c.EmbedCacheTTLSeconds = 300
	}
}

// Validate validates the retrieval configuration.
func (c *RetrievalConfig) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1], got %v", c.SimilarityThreshold)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	return nil
}

// OrchestratorConfig configures pipeline behaviour.
type OrchestratorConfig struct {
	// DeadlineMs is the overall per-request deadline.
	DeadlineMs int `yaml:"deadline_ms"`

	// LowConfidenceThreshold escalates grounded answers below it.
	LowConfidenceThreshold float64 `yaml:"low_confidence_escalation_threshold"`

	// EscalationPhrases trigger user-requested escalation. The default
	// set is conservative; deployments extend it in config.
	EscalationPhrases []string `yaml:"escalation_phrases,omitempty"`
}

// SetDefaults sets orchestrator defaults.
func (c *OrchestratorConfig) SetDefaults() {
	if c.DeadlineMs == 0 {
		c.DeadlineMs = 60000
	}
	if c.LowConfidenceThreshold == 0 {
		c.LowConfidenceThreshold = 0.50
	}
	if len(c.EscalationPhrases) == 0 {
		c.EscalationPhrases = []string{
			"raise a ticket",
			"create a ticket",
			"talk to support",
			"speak to a human",
			"talk to a human",
			"contact support",
			"talk to an agent",
		}
	}
}

// Validate validates the orchestrator configuration.
func (c *OrchestratorConfig) Validate() error {
	if c.LowConfidenceThreshold < 0 || c.LowConfidenceThreshold > 1 {
		return fmt.Errorf("low_confidence_escalation_threshold must be in [0,1]")
	}
	if c.DeadlineMs <= 0 {
		return fmt.Errorf("deadline_ms must be positive")
	}
	return nil
}

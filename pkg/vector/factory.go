package vector

import (
	"fmt"

	"github.com/answerdesk/answerdesk/pkg/config"
)

// NewProvider creates the configured vector provider.
func NewProvider(cfg *config.VectorConfig) (Provider, error) {
	switch cfg.Provider {
	case "qdrant":
		return NewQdrantProvider(cfg)
	case "chromem":
		return NewChromemProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported vector provider %q", cfg.Provider)
	}
}

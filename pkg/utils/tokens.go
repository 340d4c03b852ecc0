// Package utils provides shared helpers for the answerdesk engine.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter provides accurate per-model token counts. It backs the
// tokeniser estimates used when a provider response omits usage.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	// Encodings are expensive to build, cache them per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model. Unknown models
// fall back to the cl100k_base encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return len(text) / 4
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountWithRoles counts tokens for a role-prefixed message list, including
// the per-message framing overhead OpenAI-style chat models charge.
func (tc *TokenCounter) CountWithRoles(pairs [][2]string) int {
	if tc == nil || tc.encoding == nil {
		total := 0
		for _, p := range pairs {
			total += (len(p[0]) + len(p[1])) / 4
		}
		return total
	}

	const tokensPerMessage = 3
	total := 0
	for _, p := range pairs {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(p[0], nil, nil))
		total += len(tc.encoding.Encode(p[1], nil, nil))
	}
	// Reply priming.
	total += 3
	return total
}

// Model returns the model this counter is configured for.
func (tc *TokenCounter) Model() string {
	return tc.model
}

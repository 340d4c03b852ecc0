// Package embedders provides text embedding for retrieval, with an
// OpenAI-compatible provider and an in-process cache.
package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/answerdesk/answerdesk/pkg/config"
	"github.com/answerdesk/answerdesk/pkg/httpclient"
	"github.com/answerdesk/answerdesk/pkg/llms"
)

// Embedder converts text into a dense vector.
type Embedder interface {
	// Embed returns the embedding for the given text along with the
	// provider's reported token usage.
	Embed(ctx context.Context, text string) ([]float32, llms.Usage, error)

	// ModelID returns the configured embedding model id.
	ModelID() string

	// Dimension returns the embedding dimensionality.
	Dimension() int
}

// OpenAIEmbedder implements Embedder against an OpenAI-compatible
// embeddings endpoint.
type OpenAIEmbedder struct {
	config     *config.EmbedderConfig
	httpClient *httpclient.Client
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates an embedder from config.
func NewOpenAIEmbedder(cfg *config.EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI embedder")
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(500*time.Millisecond),
	)

	return &OpenAIEmbedder{config: cfg, httpClient: client}, nil
}

// ModelID implements Embedder.
func (e *OpenAIEmbedder) ModelID() string {
	return e.config.Model
}

// Dimension implements Embedder.
func (e *OpenAIEmbedder) Dimension() int {
	return e.config.Dimension
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, llms.Usage, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.config.Model, Input: text})
	if err != nil {
		return nil, llms.Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.config.Host+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, llms.Usage{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, llms.Usage{}, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llms.Usage{}, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, llms.Usage{}, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if apiResp.Error != nil {
		return nil, llms.Usage{}, fmt.Errorf("provider error: %s (type: %s)",
			apiResp.Error.Message, apiResp.Error.Type)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llms.Usage{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if len(apiResp.Data) == 0 {
		return nil, llms.Usage{}, fmt.Errorf("provider returned no embeddings")
	}

	usage := llms.Usage{
		PromptTokens: apiResp.Usage.PromptTokens,
		TotalTokens:  apiResp.Usage.TotalTokens,
	}
	return apiResp.Data[0].Embedding, usage, nil
}

// Ensure interface compliance at compile time.
var _ Embedder = (*OpenAIEmbedder)(nil)

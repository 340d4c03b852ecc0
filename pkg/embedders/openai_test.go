package embedders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdesk/answerdesk/pkg/config"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) *OpenAIEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	embedder, err := NewOpenAIEmbedder(&config.EmbedderConfig{
		APIKey:     "test-key",
		Model:      "text-embedding-3-small",
		Host:       srv.URL,
		Dimension:  3,
		Timeout:    5,
		MaxRetries: 0,
	})
	require.NoError(t, err)
	return embedder
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var got embeddingRequest
	embedder := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]any{
			"data":  []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0}},
			"usage": map[string]int{"prompt_tokens": 7, "total_tokens": 7},
		})
	})

	vec, usage, err := embedder.Embed(context.Background(), "how do I export?")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 7, usage.TotalTokens)
	assert.Equal(t, "text-embedding-3-small", got.Model)
	assert.Equal(t, "how do I export?", got.Input)
	assert.Equal(t, 3, embedder.Dimension())
}

func TestOpenAIEmbedder_Errors(t *testing.T) {
	t.Run("provider error body", func(t *testing.T) {
		embedder := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "invalid key", "type": "auth_error"},
			})
		})
		_, _, err := embedder.Embed(context.Background(), "text")
		assert.ErrorContains(t, err, "invalid key")
	})

	t.Run("empty data", func(t *testing.T) {
		embedder := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		})
		_, _, err := embedder.Embed(context.Background(), "text")
		assert.ErrorContains(t, err, "no embeddings")
	})

	t.Run("missing api key", func(t *testing.T) {
		_, err := NewOpenAIEmbedder(&config.EmbedderConfig{Model: "text-embedding-3-small"})
		assert.Error(t, err)
	})
}

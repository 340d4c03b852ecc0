package embedders

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdesk/answerdesk/pkg/llms"
)

type countingEmbedder struct {
	calls atomic.Int64
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, llms.Usage, error) {
	e.calls.Add(1)
	return []float32{0.1, 0.2, 0.3}, llms.Usage{PromptTokens: 7, TotalTokens: 7}, nil
}

func (e *countingEmbedder) ModelID() string { return "test-embedder" }
func (e *countingEmbedder) Dimension() int  { return 3 }

func TestCachedEmbedder_HitIsFreeAndIdentical(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 16, time.Minute)
	ctx := context.Background()

	vec1, usage1, hit1, err := cached.EmbedWithHit(ctx, "how do I export?")
	require.NoError(t, err)
	assert.False(t, hit1)
	assert.Equal(t, 7, usage1.PromptTokens)

	vec2, usage2, hit2, err := cached.EmbedWithHit(ctx, "how do I export?")
	require.NoError(t, err)
	assert.True(t, hit2)
	assert.Zero(t, usage2.TotalTokens, "cache hits must not bill tokens")
	assert.Equal(t, vec1, vec2)

	assert.Equal(t, int64(1), inner.calls.Load())

	hits, misses := cached.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachedEmbedder_KeyNormalization(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 16, time.Minute)
	ctx := context.Background()

	_, _, _, err := cached.EmbedWithHit(ctx, "How Do I Export?")
	require.NoError(t, err)
	_, _, hit, err := cached.EmbedWithHit(ctx, "  how   do i export?  ")
	require.NoError(t, err)

	assert.True(t, hit, "case and whitespace differences share one entry")
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedEmbedder_TTLExpiry(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 16, 10*time.Millisecond)
	ctx := context.Background()

	_, _, _, err := cached.EmbedWithHit(ctx, "query")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, usage, hit, err := cached.EmbedWithHit(ctx, "query")
	require.NoError(t, err)
	assert.False(t, hit, "expired entries re-embed")
	assert.Equal(t, 7, usage.PromptTokens)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachedEmbedder_LRUEviction(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 2, time.Minute)
	ctx := context.Background()

	_, _, _, _ = cached.EmbedWithHit(ctx, "a")
	_, _, _, _ = cached.EmbedWithHit(ctx, "b")
	// Touch "a" so "b" is the eviction candidate.
	_, _, hit, _ := cached.EmbedWithHit(ctx, "a")
	require.True(t, hit)

	_, _, _, _ = cached.EmbedWithHit(ctx, "c")

	_, _, hitA, _ := cached.EmbedWithHit(ctx, "a")
	assert.True(t, hitA, "recently used entry survives")
	_, _, hitB, _ := cached.EmbedWithHit(ctx, "b")
	assert.False(t, hitB, "least recently used entry was evicted")
}

func TestCachedEmbedder_PassesThroughMetadata(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 16, time.Minute)

	assert.Equal(t, "test-embedder", cached.ModelID())
	assert.Equal(t, 3, cached.Dimension())
}

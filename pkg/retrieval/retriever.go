package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/answerdesk/answerdesk/pkg/config"
	"github.com/answerdesk/answerdesk/pkg/embedders"
	"github.com/answerdesk/answerdesk/pkg/llms"
	"github.com/answerdesk/answerdesk/pkg/metrics"
	"github.com/answerdesk/answerdesk/pkg/vector"
)

// hitReporter is implemented by embedders that can report cache hits.
type hitReporter interface {
	EmbedWithHit(ctx context.Context, text string) ([]float32, llms.Usage, bool, error)
}

// Retriever runs embed, progressive-fallback search, and parent
// expansion against the configured collection.
type Retriever struct {
	embedder   embedders.Embedder
	provider   vector.Provider
	collection string
	cfg        *config.RetrievalConfig
	logger     *slog.Logger
}

// NewRetriever wires the retrieval pipeline.
func NewRetriever(embedder embedders.Embedder, provider vector.Provider, collection string, cfg *config.RetrievalConfig, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder:   embedder,
		provider:   provider,
		collection: collection,
		cfg:        cfg,
		logger:     logger,
	}
}

// Retrieve executes the full pipeline. An empty result (no chunks) is
// not an error; the orchestrator escalates on it.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	result := &Result{}

	// Embed. Cache hits cost nothing and report zero time.
	embedStart := time.Now()
	vec, usage, cached, err := r.embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	result.EmbeddingUsage = usage
	result.EmbeddingCached = cached
	if !cached {
		result.EmbeddingTimeMs = time.Since(embedStart).Milliseconds()
	}

	// Progressive fallback: first attempt with a qualifying chunk wins.
	threshold := float32(r.cfg.SimilarityThreshold)
	var matched []vector.Result

	searchStart := time.Now()
	for _, att := range buildPlan(req) {
		found, err := r.provider.SearchWithFilter(ctx, r.collection, vec, r.cfg.TopK, att.filter, threshold)
		if err != nil {
			return nil, fmt.Errorf("search attempt %s failed: %w", att.name, err)
		}

		result.Attempts = append(result.Attempts, metrics.FilterAttempt{
			Name:    att.name,
			Filter:  att.flatFilter(),
			Results: len(found),
		})
		result.DocumentsScanned += len(found)

		if len(found) > 0 {
			matched = found
			break
		}
	}
	result.SearchTimeMs = time.Since(searchStart).Milliseconds()
	result.DocumentsMatched = len(matched)

	if len(matched) == 0 {
		return result, nil
	}

	chunks := make([]Chunk, 0, len(matched))
	for _, res := range matched {
		chunks = append(chunks, chunkFromResult(res))
	}
	sortChunks(chunks)

	rerankStart := time.Now()
	selected := r.selectChunks(ctx, req.Query, chunks)
	result.RerankTimeMs = time.Since(rerankStart).Milliseconds()

	result.Chunks = selected
	result.DocumentsReturned = len(selected)
	for _, c := range selected {
		if c.Similarity > result.BestConfidence {
			result.BestConfidence = c.Similarity
		}
	}
	return result, nil
}

func (r *Retriever) embed(ctx context.Context, query string) ([]float32, llms.Usage, bool, error) {
	if reporter, ok := r.embedder.(hitReporter); ok {
		return reporter.EmbedWithHit(ctx, query)
	}
	vec, usage, err := r.embedder.Embed(ctx, query)
	return vec, usage, false, err
}

// selectChunks deduplicates by parent, expands parents that need full
// context, and bounds the output to TopK parents and MaxExpandedChunks
// chunks.
func (r *Retriever) selectChunks(ctx context.Context, query string, chunks []Chunk) []Chunk {
	perParent := make(map[string][]Chunk)
	var parentOrder []string
	for _, c := range chunks {
		key := c.ParentEntryID
		if key == "" {
			key = c.ID
		}
		if _, seen := perParent[key]; !seen {
			parentOrder = append(parentOrder, key)
		}
		perParent[key] = append(perParent[key], c)
	}

	if len(parentOrder) > r.cfg.TopK {
		parentOrder = parentOrder[:r.cfg.TopK]
	}

	budget := r.cfg.MaxExpandedChunks
	var selected []Chunk
	for _, parent := range parentOrder {
		matches := perParent[parent]
		if needsFullContext(query, matches) {
			expanded := r.expandParent(ctx, parent, matches)
			for _, c := range expanded {
				if len(selected) >= budget {
					return selected
				}
				selected = append(selected, c)
			}
			continue
		}
		for _, c := range matches {
			if len(selected) >= budget {
				return selected
			}
			selected = append(selected, c)
		}
	}
	return selected
}

// expandParent replaces the matched chunks with the parent's full
// chunk sequence, ordered by chunk index. The matched similarity is
// carried onto siblings so ranking stays meaningful.
func (r *Retriever) expandParent(ctx context.Context, parentID string, matches []Chunk) []Chunk {
	siblings, err := r.provider.FetchByField(ctx, r.collection, FieldParentEntryID, parentID, r.cfg.MaxExpandedChunks)
	if err != nil || len(siblings) == 0 {
		if err != nil {
			r.logger.Warn("parent expansion failed, keeping matched chunks",
				"parent_entry_id", parentID, "error", err)
		}
		return matches
	}

	matchedSimilarity := matches[0].Similarity
	matchedIDs := make(map[string]float64, len(matches))
	for _, m := range matches {
		matchedIDs[m.ID] = m.Similarity
	}

	expanded := make([]Chunk, 0, len(siblings))
	for _, res := range siblings {
		c := chunkFromResult(res)
		if sim, ok := matchedIDs[c.ID]; ok {
			c.Similarity = sim
		} else {
			c.Similarity = matchedSimilarity
			c.Expanded = true
		}
		expanded = append(expanded, c)
	}

	// Order the parent's chunks as authored.
	sortByChunkIndex(expanded)
	return expanded
}

func sortByChunkIndex(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
}

// needsFullContext decides whether a parent should be expanded: long
// queries, explicit how-to phrasing, or several matched chunks of the
// same parent all suggest the answer spans the whole document.
func needsFullContext(query string, matches []Chunk) bool {
	if len(matches) >= 2 {
		return true
	}
	words := strings.Fields(query)
	if len(words) > 12 {
		return true
	}
	lower := strings.ToLower(query)
	for _, marker := range []string{"how do", "how can", "how to", "step by step", "walk me through"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Package retrieval embeds the enhanced query, runs the
// progressive-fallback vector search, and optionally expands matched
// chunks to their full parent documents.
package retrieval

import (
	"sort"
	"strings"

	"github.com/answerdesk/answerdesk/pkg/llms"
	"github.com/answerdesk/answerdesk/pkg/metrics"
	"github.com/answerdesk/answerdesk/pkg/vector"
)

// Payload field names on KB chunks in the vector index.
const (
	FieldContent       = "content"
	FieldParentEntryID = "parent_entry_id"
	FieldParentTitle   = "parent_title"
	FieldSectionLabel  = "section_label"
	FieldChunkIndex    = "chunk_index"
	FieldTotalChunks   = "total_chunks"
	FieldEntryType     = "entryType"
	FieldUserType      = "userType"
	FieldCategory      = "category"
	FieldRelatedDocs   = "related_documents"
)

// Chunk is a retrieved KB chunk.
type Chunk struct {
	ID            string   `json:"id"`
	ParentEntryID string   `json:"parent_entry_id"`
	ParentTitle   string   `json:"parent_title"`
	Content       string   `json:"content"`
	SectionLabel  string   `json:"section_label"`
	ChunkIndex    int      `json:"chunk_index"`
	TotalChunks   int      `json:"total_chunks"`
	EntryType     string   `json:"entry_type"`
	UserType      string   `json:"user_type"`
	Category      string   `json:"category"`
	RelatedDocs   []string `json:"related_documents,omitempty"`
	Similarity    float64  `json:"similarity"`

	// Expanded is true when the chunk was pulled in as a sibling
	// during parent expansion rather than matched directly.
	Expanded bool `json:"expanded,omitempty"`
}

// Request describes one retrieval run.
type Request struct {
	// Query is the enhanced search query.
	Query string

	// ClassifiedType drives the fallback plan (howto, error, ...).
	ClassifiedType string

	// UserType is the caller audience (internal or external).
	UserType string

	// Category from the query-intelligence verdict, may be empty.
	Category string

	// TargetTitle, when set, prepends a targeted attempt filtered to
	// that parent document.
	TargetTitle string
}

// Result is the retrieval outcome plus everything the metrics record
// needs.
type Result struct {
	Chunks   []Chunk
	Attempts []metrics.FilterAttempt

	DocumentsScanned  int
	DocumentsMatched  int
	DocumentsReturned int

	BestConfidence  float64
	EmbeddingTimeMs int64
	SearchTimeMs    int64
	RerankTimeMs    int64

	EmbeddingUsage  llms.Usage
	EmbeddingCached bool
}

// Titles returns the distinct parent titles of the result chunks, in
// result order.
func (r *Result) Titles() []string {
	seen := make(map[string]bool)
	var titles []string
	for _, c := range r.Chunks {
		if c.ParentTitle == "" || seen[c.ParentTitle] {
			continue
		}
		seen[c.ParentTitle] = true
		titles = append(titles, c.ParentTitle)
	}
	return titles
}

func chunkFromResult(res vector.Result) Chunk {
	c := Chunk{
		ID:            res.ID,
		ParentEntryID: vector.StringMeta(res.Metadata, FieldParentEntryID),
		ParentTitle:   vector.StringMeta(res.Metadata, FieldParentTitle),
		Content:       res.Content,
		SectionLabel:  vector.StringMeta(res.Metadata, FieldSectionLabel),
		ChunkIndex:    vector.IntMeta(res.Metadata, FieldChunkIndex),
		TotalChunks:   vector.IntMeta(res.Metadata, FieldTotalChunks),
		EntryType:     vector.StringMeta(res.Metadata, FieldEntryType),
		UserType:      vector.StringMeta(res.Metadata, FieldUserType),
		Category:      vector.StringMeta(res.Metadata, FieldCategory),
		Similarity:    float64(res.Score),
	}
	if c.Content == "" {
		c.Content = vector.StringMeta(res.Metadata, FieldContent)
	}
	if raw := res.Metadata[FieldRelatedDocs]; raw != nil {
		switch v := raw.(type) {
		case []string:
			c.RelatedDocs = v
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					c.RelatedDocs = append(c.RelatedDocs, s)
				}
			}
		case string:
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					c.RelatedDocs = append(c.RelatedDocs, part)
				}
			}
		}
	}
	return c
}

// sortChunks orders by similarity descending, then chunk index
// ascending, then parent id lexicographically, keeping results
// deterministic.
func sortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Similarity != chunks[j].Similarity {
			return chunks[i].Similarity > chunks[j].Similarity
		}
		if chunks[i].ChunkIndex != chunks[j].ChunkIndex {
			return chunks[i].ChunkIndex < chunks[j].ChunkIndex
		}
		return chunks[i].ParentEntryID < chunks[j].ParentEntryID
	})
}

// Package vector abstracts the knowledge-base vector index behind a
// small provider interface, with Qdrant for production and an embedded
// chromem index for development and tests.
package vector

import "context"

// Result is one scored chunk from a similarity search.
type Result struct {
	// ID is the chunk id.
	ID string

	// Content is the chunk text.
	Content string

	// Score is the cosine similarity against the query vector.
	Score float32

	// Metadata carries the chunk payload (parent_id, parent_title,
	// chunk_index, audience, category, ...).
	Metadata map[string]any
}

// Filter restricts a search by payload fields. Must entries require an
// exact match; Any entries match when the field equals any listed
// value. An empty filter matches everything.
type Filter struct {
	Must map[string]string
	Any  map[string][]string
}

// Empty reports whether the filter has no conditions.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Any) == 0)
}

// Provider is the vector index collaborator.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Upsert adds or updates a chunk with its vector and payload.
	Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error

	// SearchWithFilter runs similarity search restricted by filter,
	// discarding results below threshold. A nil filter searches the
	// whole collection.
	SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter *Filter, threshold float32) ([]Result, error)

	// FetchByField returns all chunks whose payload field equals value,
	// without similarity scoring. Used to pull sibling chunks of a
	// parent document.
	FetchByField(ctx context.Context, collection string, field, value string, limit int) ([]Result, error)

	// Delete removes a chunk by id.
	Delete(ctx context.Context, collection string, id string) error

	// CreateCollection creates a collection if absent.
	CreateCollection(ctx context.Context, collection string, dimension int) error

	// Close releases provider resources.
	Close() error
}

// StringMeta reads a string payload field, tolerating absent or
// differently-typed values.
func StringMeta(metadata map[string]any, key string) string {
	if v, ok := metadata[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IntMeta reads an integer payload field.
func IntMeta(metadata map[string]any, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemProvider implements Provider on an embedded chromem-go index.
// It keeps everything in process memory, which makes it the default for
// development and tests. Payloads are mirrored in a side map because
// chromem metadata is string-valued only.
type ChromemProvider struct {
	db *chromem.DB

	mu       sync.RWMutex
	payloads map[string]map[string]any // "collection/id" -> payload
}

// NewChromemProvider creates an empty in-memory index.
func NewChromemProvider() *ChromemProvider {
	return &ChromemProvider{
		db:       chromem.NewDB(),
		payloads: make(map[string]map[string]any),
	}
}

// Name implements Provider.
func (p *ChromemProvider) Name() string {
	return "chromem"
}

// Upsert implements Provider.
func (p *ChromemProvider) Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error {
	c, err := p.db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to open collection %s: %w", collection, err)
	}

	stringMeta := make(map[string]string, len(metadata))
	for key, value := range metadata {
		stringMeta[key] = fmt.Sprintf("%v", value)
	}

	doc := chromem.Document{
		ID:        id,
		Metadata:  stringMeta,
		Embedding: vec,
		Content:   StringMeta(metadata, "content"),
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document %s: %w", id, err)
	}

	p.mu.Lock()
	p.payloads[collection+"/"+id] = metadata
	p.mu.Unlock()
	return nil
}

// SearchWithFilter implements Provider. Must conditions map onto the
// chromem where clause; Any conditions and the score threshold are
// applied as a post-filter.
func (p *ChromemProvider) SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter *Filter, threshold float32) ([]Result, error) {
	c := p.db.GetCollection(collection, nil)
	if c == nil {
		return nil, nil
	}

	count := c.Count()
	if count == 0 {
		return nil, nil
	}

	// Over-fetch so post-filtering still yields topK candidates.
	fetch := topK * 4
	if fetch > count {
		fetch = count
	}

	var where map[string]string
	if filter != nil && len(filter.Must) > 0 {
		where = filter.Must
	}

	queryResults, err := c.QueryEmbedding(ctx, vec, fetch, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}

	results := make([]Result, 0, topK)
	for _, qr := range queryResults {
		if qr.Similarity < threshold {
			continue
		}
		if filter != nil && !matchAny(qr.Metadata, filter.Any) {
			continue
		}
		results = append(results, Result{
			ID:       qr.ID,
			Content:  qr.Content,
			Score:    qr.Similarity,
			Metadata: p.payload(collection, qr.ID, qr.Metadata),
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// FetchByField implements Provider using the mirrored payload map.
func (p *ChromemProvider) FetchByField(ctx context.Context, collection string, field, value string, limit int) ([]Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prefix := collection + "/"
	results := make([]Result, 0, limit)
	for key, payload := range p.payloads {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if StringMeta(payload, field) != value {
			continue
		}
		results = append(results, Result{
			ID:       key[len(prefix):],
			Content:  StringMeta(payload, "content"),
			Metadata: payload,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Delete implements Provider.
func (p *ChromemProvider) Delete(ctx context.Context, collection string, id string) error {
	c := p.db.GetCollection(collection, nil)
	if c == nil {
		return nil
	}
	if err := c.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}

	p.mu.Lock()
	delete(p.payloads, collection+"/"+id)
	p.mu.Unlock()
	return nil
}

// CreateCollection implements Provider.
func (p *ChromemProvider) CreateCollection(ctx context.Context, collection string, dimension int) error {
	_, err := p.db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	return nil
}

// Close implements Provider.
func (p *ChromemProvider) Close() error {
	return nil
}

func (p *ChromemProvider) payload(collection, id string, fallback map[string]string) map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if payload, ok := p.payloads[collection+"/"+id]; ok {
		return payload
	}
	metadata := make(map[string]any, len(fallback))
	for key, value := range fallback {
		metadata[key] = value
	}
	return metadata
}

func matchAny(metadata map[string]string, any map[string][]string) bool {
	for field, values := range any {
		got, ok := metadata[field]
		if !ok {
			return false
		}
		matched := false
		for _, v := range values {
			if got == v {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Ensure interface compliance at compile time.
var _ Provider = (*ChromemProvider)(nil)

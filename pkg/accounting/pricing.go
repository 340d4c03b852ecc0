package accounting

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ModelPrice is the per-million-token price for one model.
type ModelPrice struct {
	InputPer1M  float64 `yaml:"input_per_1m"`
	OutputPer1M float64 `yaml:"output_per_1m"`
}

// PriceTable maps model ids to prices. The table may be hot-reloaded;
// readers always see a consistent snapshot.
type PriceTable struct {
	mu     sync.RWMutex
	models map[string]ModelPrice
	path   string
}

// NewPriceTable creates a table from an explicit model map.
func NewPriceTable(models map[string]ModelPrice) *PriceTable {
	if models == nil {
		models = map[string]ModelPrice{}
	}
	return &PriceTable{models: models}
}

// LoadPriceTable reads a YAML price table of the shape
// {model_id: {input_per_1m, output_per_1m}}.
func LoadPriceTable(path string) (*PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price table: %w", err)
	}

	models := map[string]ModelPrice{}
	if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to parse price table: %w", err)
	}

	return &PriceTable{models: models, path: path}, nil
}

// Cost computes the USD cost for a call at current prices. Unknown
// models cost zero; callers record the usage regardless.
func (t *PriceTable) Cost(modelID string, inputTokens, outputTokens int) float64 {
	t.mu.RLock()
	price, ok := t.models[modelID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*price.InputPer1M +
		float64(outputTokens)/1e6*price.OutputPer1M
}

// Watch reloads the table when the backing file changes. It blocks until
// the context is cancelled. Emitted records are unaffected: cost is
// frozen into each TokenUsage at recording time.
func (t *PriceTable) Watch(ctx context.Context) error {
	if t.path == "" {
		return fmt.Errorf("price table was not loaded from a file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(t.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", t.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloaded, err := LoadPriceTable(t.path)
			if err != nil {
				slog.Warn("price table reload failed, keeping previous prices", "error", err)
				continue
			}
			t.mu.Lock()
			t.models = reloaded.models
			t.mu.Unlock()
			slog.Info("price table reloaded", "path", t.path, "models", len(reloaded.models))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("price table watcher error", "error", err)
		}
	}
}

// Package accounting tracks per-LLM-call token usage and cost,
// attributed per session and operation. Costs are frozen at recording
// time: later price-table edits never alter emitted records.
package accounting

import "time"

// Operation identifies the pipeline stage an LLM or embedding call
// belongs to.
type Operation string

const (
	OperationQueryIntelligence  Operation = "query_intelligence"
	OperationEmbedding          Operation = "embedding"
	OperationResponseGeneration Operation = "response_generation"
	OperationSummarization      Operation = "summarization"
)

// TokenUsage is one recorded external call.
type TokenUsage struct {
	Operation    Operation `json:"operation"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	ModelID      string    `json:"model_id"`
	CostUSD      float64   `json:"cost_usd"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// CostBreakdown aggregates TokenUsage entries by operation for one query
// or one session.
type CostBreakdown struct {
	QueryIntelligenceUSD  float64 `json:"query_intelligence_cost"`
	EmbeddingUSD          float64 `json:"embedding_cost"`
	ResponseGenerationUSD float64 `json:"response_generation_cost"`
	SummarizationUSD      float64 `json:"summarization_cost"`
	TotalUSD              float64 `json:"total_cost"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	Entries []TokenUsage `json:"-"`
}

func (b *CostBreakdown) add(u TokenUsage) {
	switch u.Operation {
	case OperationQueryIntelligence:
		b.QueryIntelligenceUSD += u.CostUSD
	case OperationEmbedding:
		b.EmbeddingUSD += u.CostUSD
	case OperationResponseGeneration:
		b.ResponseGenerationUSD += u.CostUSD
	case OperationSummarization:
		b.SummarizationUSD += u.CostUSD
	}
	b.TotalUSD += u.CostUSD
	b.InputTokens += u.InputTokens
	b.OutputTokens += u.OutputTokens
	b.Entries = append(b.Entries, u)
}

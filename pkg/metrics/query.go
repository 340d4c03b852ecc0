// Package metrics defines the per-query metrics record and its
// collection pipeline. Every finalised query emits exactly one
// QueryMetrics.
package metrics

import (
	"time"

	"github.com/answerdesk/answerdesk/pkg/accounting"
)

// EscalationReason explains why a query was escalated.
type EscalationReason string

const (
	EscalationNone          EscalationReason = "none"
	EscalationNoResults     EscalationReason = "no_results"
	EscalationLowConfidence EscalationReason = "low_confidence"
	EscalationUserRequested EscalationReason = "user_requested"
)

// FilterAttempt records one progressive-fallback search attempt.
type FilterAttempt struct {
	// Name labels the fallback stage.
	Name string `json:"name"`

	// Filter is the metadata filter applied, flattened for readability.
	Filter map[string]string `json:"filter"`

	// Results is how many chunks met the similarity threshold.
	Results int `json:"results"`
}

// SearchExecution captures retrieval-phase details.
type SearchExecution struct {
	FiltersApplied      []string        `json:"filters_applied"`
	Attempts            []FilterAttempt `json:"attempts"`
	DocumentsScanned    int             `json:"documents_scanned"`
	DocumentsMatched    int             `json:"documents_matched"`
	DocumentsReturned   int             `json:"documents_returned"`
	SimilarityThreshold float64         `json:"similarity_threshold"`
	EmbeddingTimeMs     int64           `json:"embedding_time_ms"`
	SearchTimeMs        int64           `json:"search_time_ms"`
	RerankTimeMs        int64           `json:"rerank_time_ms"`
}

// QueryMetrics is the unit record emitted once per finalised query.
type QueryMetrics struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	QueryText                string  `json:"query_text"`
	ClassifiedType           string  `json:"classified_type"`
	ClassificationConfidence float64 `json:"classification_confidence"`
	EnhancedQuery            string  `json:"enhanced_query"`
	Routing                  string  `json:"routing"`

	SearchExecution SearchExecution `json:"search_execution"`
	SourcesFound    int             `json:"sources_found"`
	SourcesUsed     int             `json:"sources_used"`
	BestConfidence  float64         `json:"best_confidence"`

	TotalTimeMs              int64 `json:"total_time_ms"`
	ClassificationTimeMs     int64 `json:"classification_time_ms"`
	QueryIntelligenceTimeMs  int64 `json:"query_intelligence_time_ms"`
	ResponseGenerationTimeMs int64 `json:"response_generation_time_ms"`

	CostBreakdown accounting.CostBreakdown `json:"cost_breakdown"`

	Escalated        bool             `json:"escalated"`
	EscalationReason EscalationReason `json:"escalation_reason"`

	QueryIntelligenceFallback bool `json:"query_intelligence_fallback,omitempty"`
	SessionDegraded           bool `json:"session_degraded,omitempty"`
	InvariantViolation        bool `json:"invariant_violation,omitempty"`
}

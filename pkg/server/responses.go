package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/answerdesk/answerdesk/pkg/config"
	"github.com/answerdesk/answerdesk/pkg/metrics"
	"github.com/answerdesk/answerdesk/pkg/orchestrator"
)

// queryResponse is shaped per flavour visibility: minimal carries only
// the core fields, sources adds confidence and trimmed sources, debug
// adds the full metrics record and context snapshot.
type queryResponse struct {
	Response           string `json:"response"`
	SessionID          string `json:"session_id"`
	Timestamp          string `json:"timestamp"`
	RequiresEscalation bool   `json:"requires_escalation"`

	Confidence *float64              `json:"confidence,omitempty"`
	Sources    []orchestrator.Source `json:"sources,omitempty"`

	QueryType                string                     `json:"query_type,omitempty"`
	ClassificationConfidence *float64                   `json:"classification_confidence,omitempty"`
	DebugMetrics             *metrics.QueryMetrics      `json:"debug_metrics,omitempty"`
	ContextDebug             *orchestrator.ContextDebug `json:"context_debug,omitempty"`
}

func buildQueryResponse(answer *orchestrator.Answer, visibility config.Visibility) *queryResponse {
	resp := &queryResponse{
		Response:           answer.Response,
		SessionID:          answer.SessionID,
		Timestamp:          answer.Timestamp.Format(time.RFC3339),
		RequiresEscalation: answer.RequiresEscalation,
	}

	switch visibility {
	case config.VisibilityDebug:
		confidence := answer.Confidence
		clsConfidence := answer.ClassificationConfidence
		m := answer.Metrics
		resp.Confidence = &confidence
		resp.Sources = answer.Sources
		resp.QueryType = answer.QueryType
		resp.ClassificationConfidence = &clsConfidence
		resp.DebugMetrics = &m
		resp.ContextDebug = answer.Context

	case config.VisibilitySources:
		confidence := answer.Confidence
		resp.Confidence = &confidence
		resp.Sources = trimSources(answer.Sources)
	}

	return resp
}

// trimSources copies the source list so the handler never aliases the
// orchestrator's slice.
func trimSources(sources []orchestrator.Source) []orchestrator.Source {
	trimmed := make([]orchestrator.Source, len(sources))
	copy(trimmed, sources)
	return trimmed
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

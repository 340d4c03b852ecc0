// Package intelligence runs the single consolidated LLM call that
// analyses a query, picks the pipeline route, and produces an enhanced
// search query.
package intelligence

import (
	"strings"

	"github.com/invopop/jsonschema"
)

// Routing decisions.
const (
	RouteAnswerFromContext = "answer_from_context"
	RouteSearchKBTargeted  = "search_kb_targeted"
	RouteFullRAG           = "full_rag"
)

// Verdict is the structured output of the query-intelligence call.
type Verdict struct {
	IsFollowup           bool     `json:"is_followup"`
	CanAnswerFromContext bool     `json:"can_answer_from_context"`
	MatchedRelatedDoc    string   `json:"matched_related_doc"`
	Routing              string   `json:"routing"`
	EnhancedQuery        string   `json:"enhanced_query"`
	Category             string   `json:"category"`
	Intent               string   `json:"intent"`
	Tags                 []string `json:"tags"`
}

// Decision wraps a verdict with its provenance. Fallback is true when
// the model output was unusable and the safe default was substituted;
// it is a value, not an error, so callers and tests can assert on it.
type Decision struct {
	Verdict  Verdict
	Fallback bool
}

// fallbackDecision is the safe default for unusable model output.
func fallbackDecision(originalQuery string) *Decision {
	return &Decision{
		Verdict: Verdict{
			Routing:       RouteFullRAG,
			EnhancedQuery: originalQuery,
		},
		Fallback: true,
	}
}

// verdictSchema is generated once; the provider sends it as the
// json_schema response format.
var verdictSchema = func() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return reflector.Reflect(&Verdict{})
}()

// validate enforces the routing rules on a decoded verdict, in place.
// Returns false when the verdict is structurally unusable.
func validate(v *Verdict, originalQuery, contextText string, knownTitles []string) bool {
	switch v.Routing {
	case RouteAnswerFromContext, RouteSearchKBTargeted, RouteFullRAG:
	default:
		return false
	}

	if strings.TrimSpace(v.EnhancedQuery) == "" {
		v.EnhancedQuery = originalQuery
	}

	if v.Routing == RouteAnswerFromContext {
		if !v.CanAnswerFromContext || strings.TrimSpace(contextText) == "" || errorOnlyContext(contextText) {
			v.Routing = RouteFullRAG
		}
	}

	if v.Routing == RouteSearchKBTargeted {
		if v.MatchedRelatedDoc == "" || !containsTitle(knownTitles, v.MatchedRelatedDoc) {
			v.Routing = RouteFullRAG
			v.MatchedRelatedDoc = ""
		}
	}

	return true
}

func containsTitle(titles []string, title string) bool {
	for _, t := range titles {
		if strings.EqualFold(t, title) {
			return true
		}
	}
	return false
}

// errorOnlyContext reports whether every assistant line in the
// formatted context looks like an error or apology, in which case the
// context cannot ground an answer.
func errorOnlyContext(contextText string) bool {
	sawAssistant := false
	for _, line := range strings.Split(contextText, "\n") {
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, "assistant:") {
			continue
		}
		sawAssistant = true
		if !strings.Contains(lower, "sorry") &&
			!strings.Contains(lower, "apolog") &&
			!strings.Contains(lower, "couldn't find") &&
			!strings.Contains(lower, "could not find") &&
			!strings.Contains(lower, "error") {
			return false
		}
	}
	return sawAssistant
}

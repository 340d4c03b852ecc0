package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/answerdesk/answerdesk/pkg/llms"
)

const systemPrompt = `You analyse one user query for a knowledge-base support assistant and respond with a single JSON object.

Decide:
- is_followup: whether the query continues the prior conversation.
- can_answer_from_context: whether the conversation context alone fully answers the query.
- matched_related_doc: if the query refers to a document title listed under "Known documents", repeat that exact title; otherwise use "".
- routing: "answer_from_context" only when can_answer_from_context is true and the context is non-empty; "search_kb_targeted" only when matched_related_doc is set; otherwise "full_rag".
- enhanced_query: the query rewritten as a standalone knowledge-base search query, resolving pronouns from context. Never empty.
- category: a short topical category for the query.
- intent: one short phrase describing what the user wants.
- tags: up to five short keyword tags.

Respond with JSON only.`

// Service runs the consolidated query-intelligence call.
type Service struct {
	llm    llms.Chat
	logger *slog.Logger
}

// NewService creates the intelligence service.
func NewService(llm llms.Chat, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{llm: llm, logger: logger}
}

// Analyze performs the single LLM call and validates its verdict.
// Unusable output never fails the request: the returned decision falls
// back to full_rag with the original query and Fallback set. Usage is
// reported even on fallback so the call is still billed.
func (s *Service) Analyze(ctx context.Context, query, classifiedType, contextText string, knownTitles []string) (*Decision, llms.Usage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", query)
	fmt.Fprintf(&b, "Classified type: %s\n", classifiedType)
	if contextText != "" {
		fmt.Fprintf(&b, "\nConversation context:\n%s\n", contextText)
	} else {
		b.WriteString("\nConversation context: (empty)\n")
	}
	if len(knownTitles) > 0 {
		b.WriteString("\nKnown documents:\n")
		for _, title := range knownTitles {
			fmt.Fprintf(&b, "- %s\n", title)
		}
	}

	result, err := s.llm.Complete(ctx, llms.CompletionRequest{
		System:   systemPrompt,
		Messages: []llms.Message{{Role: "user", Content: b.String()}},
		Format: &llms.ResponseFormat{
			Name:   "query_intelligence_verdict",
			Schema: verdictSchema,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, llms.Usage{}, fmt.Errorf("query intelligence call failed: %w", err)
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(result.Text), &verdict); err != nil {
		s.logger.Warn("query intelligence returned malformed JSON, using fallback verdict",
			"error", err)
		return fallbackDecision(query), result.Usage, nil
	}

	if !validate(&verdict, query, contextText, knownTitles) {
		s.logger.Warn("query intelligence verdict failed validation, using fallback verdict",
			"routing", verdict.Routing)
		return fallbackDecision(query), result.Usage, nil
	}

	return &Decision{Verdict: verdict}, result.Usage, nil
}

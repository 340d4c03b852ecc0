// Package generator produces the user-facing answer: grounded in KB
// chunks when retrieval found any, from conversation context alone for
// context-answerable follow-ups, or a fallback reply otherwise.
package generator

import (
	"context"
	"fmt"

	"github.com/answerdesk/answerdesk/pkg/llms"
	"github.com/answerdesk/answerdesk/pkg/retrieval"
	"github.com/answerdesk/answerdesk/pkg/utils"
)

// Mode selects the generation prompt.
type Mode string

const (
	// ModeGrounded answers from KB chunks.
	ModeGrounded Mode = "grounded"

	// ModeContext answers from conversation context alone.
	ModeContext Mode = "context"

	// ModeFallback answers without KB grounding and invites
	// escalation.
	ModeFallback Mode = "fallback"
)

// Request describes one generation call.
type Request struct {
	Mode        Mode
	Query       string
	ContextText string
	Chunks      []retrieval.Chunk
}

// Generator wraps the chat provider for answer generation. Usage is
// always reported, estimated from the tokenizer when the provider
// failed before returning counts, so the call is never unbilled.
type Generator struct {
	llm     llms.Chat
	counter *utils.TokenCounter
}

// New creates a generator. counter may be nil, in which case a
// tokenizer for the provider's model is built (nil counters degrade to
// a rough character heuristic).
func New(llm llms.Chat, counter *utils.TokenCounter) *Generator {
	if counter == nil {
		counter, _ = utils.NewTokenCounter(llm.ModelID())
	}
	return &Generator{llm: llm, counter: counter}
}

// Generate runs one response-generation call. On provider failure the
// returned usage holds a tokenizer estimate of the prompt so the
// accountant still records the attempt.
func (g *Generator) Generate(ctx context.Context, req Request) (string, llms.Usage, error) {
	var system, user string
	switch req.Mode {
	case ModeGrounded:
		system = groundedSystemPrompt
		user = buildGroundedUser(req.Query, req.ContextText, req.Chunks)
	case ModeContext:
		system = contextSystemPrompt
		user = buildContextUser(req.Query, req.ContextText)
	case ModeFallback:
		system = fallbackSystemPrompt
		user = buildFallbackUser(req.Query, req.ContextText)
	default:
		return "", llms.Usage{}, fmt.Errorf("unknown generation mode %q", req.Mode)
	}

	result, err := g.llm.Complete(ctx, llms.CompletionRequest{
		System:      system,
		Messages:    []llms.Message{{Role: "user", Content: user}},
		Temperature: 0.3,
	})
	if err != nil {
		estimate := llms.Usage{
			PromptTokens: g.counter.CountWithRoles([][2]string{
				{"system", system},
				{"user", user},
			}),
		}
		estimate.TotalTokens = estimate.PromptTokens
		return "", estimate, fmt.Errorf("response generation failed: %w", err)
	}

	usage := result.Usage
	if usage.TotalTokens == 0 {
		// Provider omitted usage; estimate both sides.
		usage.PromptTokens = g.counter.CountWithRoles([][2]string{
			{"system", system},
			{"user", user},
		})
		usage.CompletionTokens = g.counter.Count(result.Text)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return result.Text, usage, nil
}

// ModelID returns the provider model id for cost attribution.
func (g *Generator) ModelID() string {
	return g.llm.ModelID()
}

package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdesk/answerdesk/pkg/llms"
	"github.com/answerdesk/answerdesk/pkg/retrieval"
)

type stubChat struct {
	text  string
	usage llms.Usage
	err   error

	lastRequest llms.CompletionRequest
}

func (s *stubChat) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.CompletionResult, error) {
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return &llms.CompletionResult{Text: s.text, Usage: s.usage}, nil
}

func (s *stubChat) ModelID() string { return "gpt-4o-mini" }

func TestGenerate_Grounded(t *testing.T) {
	chat := &stubChat{
		text:  "Open Settings and pick Export.",
		usage: llms.Usage{PromptTokens: 200, CompletionTokens: 30, TotalTokens: 230},
	}
	g := New(chat, nil)

	text, usage, err := g.Generate(context.Background(), Request{
		Mode:  ModeGrounded,
		Query: "how do I export?",
		Chunks: []retrieval.Chunk{
			{ParentTitle: "Exports", SectionLabel: "PDF", Content: "Use Settings > Export.", Similarity: 0.9},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Open Settings and pick Export.", text)
	assert.Equal(t, 230, usage.TotalTokens)

	assert.Contains(t, chat.lastRequest.Messages[0].Content, "Use Settings > Export.")
	assert.Contains(t, chat.lastRequest.Messages[0].Content, "Exports — PDF")
	assert.Contains(t, chat.lastRequest.System, "knowledge-base excerpts")
}

func TestGenerate_ModesSelectPrompts(t *testing.T) {
	chat := &stubChat{text: "ok", usage: llms.Usage{TotalTokens: 1, PromptTokens: 1}}
	g := New(chat, nil)

	_, _, err := g.Generate(context.Background(), Request{
		Mode: ModeContext, Query: "q", ContextText: "user: hi",
	})
	require.NoError(t, err)
	assert.Equal(t, contextSystemPrompt, chat.lastRequest.System)

	_, _, err = g.Generate(context.Background(), Request{
		Mode: ModeFallback, Query: "q",
	})
	require.NoError(t, err)
	assert.Equal(t, fallbackSystemPrompt, chat.lastRequest.System)

	_, _, err = g.Generate(context.Background(), Request{Mode: Mode("nope"), Query: "q"})
	assert.Error(t, err)
}

func TestGenerate_FailureStillEstimatesUsage(t *testing.T) {
	chat := &stubChat{err: errors.New("upstream 500")}
	g := New(chat, nil)

	text, usage, err := g.Generate(context.Background(), Request{
		Mode:        ModeFallback,
		Query:       strings.Repeat("why does the export keep failing ", 10),
		ContextText: "user: hi\nassistant: hello",
	})
	assert.Error(t, err)
	assert.Empty(t, text)
	assert.Greater(t, usage.PromptTokens, 0, "the failed call is still billed on an estimate")
	assert.Equal(t, usage.PromptTokens, usage.TotalTokens)
	assert.Zero(t, usage.CompletionTokens)
}

func TestGenerate_EstimatesWhenProviderOmitsUsage(t *testing.T) {
	chat := &stubChat{text: "An answer of reasonable length for counting."}
	g := New(chat, nil)

	_, usage, err := g.Generate(context.Background(), Request{
		Mode:  ModeFallback,
		Query: strings.Repeat("tell me about exports ", 10),
	})
	require.NoError(t, err)
	assert.Greater(t, usage.PromptTokens, 0)
	assert.Greater(t, usage.CompletionTokens, 0)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
}

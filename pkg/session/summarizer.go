package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/answerdesk/answerdesk/pkg/llms"
)

const summarizerSystemPrompt = `You maintain a running summary of a support conversation.
Merge the previous summary with the new messages into a single concise summary.
Preserve concrete facts: product names, error messages, steps already tried, and what the user is trying to achieve.
Respond with the summary text only.`

// Summarizer folds older conversation turns into a rolling summary so
// context stays bounded as sessions grow.
type Summarizer struct {
	llm      llms.Chat
	interval int
}

// NewSummarizer creates a summarizer that refreshes every interval
// messages.
func NewSummarizer(llm llms.Chat, interval int) *Summarizer {
	if interval <= 0 {
		interval = 5
	}
	return &Summarizer{llm: llm, interval: interval}
}

// Crossed reports whether the message counter passed a refresh
// boundary while moving from prev to now. Counts advance two messages
// per exchange, so odd intervals still fire on the exchange that
// steps over them.
func (s *Summarizer) Crossed(prev, now int) bool {
	if now <= 0 {
		return false
	}
	if prev < 0 {
		prev = 0
	}
	return now/s.interval > prev/s.interval
}

// Summarize merges the previous summary with the recent messages. On
// error the caller keeps the previous summary.
func (s *Summarizer) Summarize(ctx context.Context, previous string, recent []Message) (string, llms.Usage, error) {
	if len(recent) == 0 {
		return previous, llms.Usage{}, nil
	}

	var b strings.Builder
	if previous != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages:\n")
	for _, msg := range recent {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	result, err := s.llm.Complete(ctx, llms.CompletionRequest{
		System:      summarizerSystemPrompt,
		Messages:    []llms.Message{{Role: RoleUser, Content: b.String()}},
		Temperature: 0,
	})
	if err != nil {
		return previous, llms.Usage{}, fmt.Errorf("summarization failed: %w", err)
	}

	summary := strings.TrimSpace(result.Text)
	if summary == "" {
		return previous, result.Usage, nil
	}
	return summary, result.Usage, nil
}

// ModelID returns the underlying model id for cost attribution.
func (s *Summarizer) ModelID() string {
	return s.llm.ModelID()
}

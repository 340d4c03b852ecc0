package orchestrator

import (
	"fmt"
	"strings"

	"github.com/answerdesk/answerdesk/pkg/session"
)

// formatContext renders the summary and recent messages as the single
// string presented to LLMs. Assistant messages carry a source
// attribution line so later turns can route back to those documents.
func formatContext(summary string, messages []session.Message) string {
	if summary == "" && len(messages) == 0 {
		return ""
	}

	var b strings.Builder
	if summary != "" {
		fmt.Fprintf(&b, "Summary of earlier conversation: %s\n\n", summary)
	}
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		if msg.Role == session.RoleAssistant && msg.Meta != nil && len(msg.Meta.Sources) > 0 {
			fmt.Fprintf(&b, "[sources: %s]\n", strings.Join(msg.Meta.Sources, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// knownTitles collects the distinct KB titles cited by prior assistant
// messages, newest last. These anchor the targeted-retrieval route.
func knownTitles(messages []session.Message) []string {
	seen := make(map[string]bool)
	var titles []string
	for _, msg := range messages {
		if msg.Role != session.RoleAssistant || msg.Meta == nil {
			continue
		}
		for _, title := range msg.Meta.Sources {
			if title == "" || seen[title] {
				continue
			}
			seen[title] = true
			titles = append(titles, title)
		}
	}
	return titles
}

// ContextDebug is the context snapshot exposed on the debug flavour.
type ContextDebug struct {
	Formatted    string   `json:"formatted"`
	Summary      string   `json:"summary,omitempty"`
	MessageCount int      `json:"message_count"`
	KnownTitles  []string `json:"known_titles,omitempty"`
	Degraded     bool     `json:"degraded,omitempty"`
}

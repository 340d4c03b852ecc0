package generator

import (
	"fmt"
	"strings"

	"github.com/answerdesk/answerdesk/pkg/retrieval"
)

const groundedSystemPrompt = `You are a support assistant answering from the provided knowledge-base excerpts.
Rules:
- Answer using only the excerpts and the conversation context. Do not invent capabilities or steps.
- Write for the user directly; do not mention "excerpts", "chunks", or document ids.
- When an excerpt fully answers the question, follow its wording for names of buttons, menus, and settings.
- If the excerpts only partially cover the question, answer what is covered and say what you could not verify.`

const contextSystemPrompt = `You are a support assistant. Answer the user's question from the conversation so far.
The conversation contains everything needed; do not speculate beyond it. Keep the answer short and direct.`

const fallbackSystemPrompt = `You are a support assistant. No knowledge-base article matched this question.
Give a brief, generally helpful reply if you safely can, be explicit that you could not find a documented answer, and invite the user to raise a ticket with the support team for a definitive one.`

// buildGroundedUser renders the query plus KB excerpts, each annotated
// with its source title and retrieval confidence.
func buildGroundedUser(query, contextText string, chunks []retrieval.Chunk) string {
	var b strings.Builder
	if contextText != "" {
		fmt.Fprintf(&b, "Conversation so far:\n%s\n\n", contextText)
	}
	b.WriteString("Knowledge-base excerpts:\n")
	for i, c := range chunks {
		title := c.ParentTitle
		if c.SectionLabel != "" {
			title += " — " + c.SectionLabel
		}
		fmt.Fprintf(&b, "[%d] %s (confidence %.2f)\n%s\n\n", i+1, title, c.Similarity, c.Content)
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

func buildContextUser(query, contextText string) string {
	return fmt.Sprintf("Conversation so far:\n%s\n\nQuestion: %s", contextText, query)
}

func buildFallbackUser(query, contextText string) string {
	if contextText == "" {
		return "Question: " + query
	}
	return fmt.Sprintf("Conversation so far:\n%s\n\nQuestion: %s", contextText, query)
}

package orchestrator

import (
	"strings"

	"github.com/answerdesk/answerdesk/pkg/metrics"
)

// Canned prompts appended to the response when escalation is set, one
// per reason. The client pairs them with requires_escalation to offer
// ticket creation.
const (
	escalationPromptNoResults = "\n\nI couldn't find a documented answer for this. Would you like me to raise a ticket with the support team?"

	escalationPromptLowConfidence = "\n\nI'm not fully confident this answers your question. Would you like me to raise a ticket so the support team can confirm?"

	escalationPromptUserRequested = "\n\nI can raise a ticket so a member of the support team gets back to you. Shall I go ahead?"
)

// greetingReply is the canned greeting-shortcut response.
const greetingReply = "Hello! I'm the support assistant. Ask me anything about the product and I'll look it up in our knowledge base."

// userRequestedReply is the reply body for explicit human requests; the
// user_requested prompt is appended to it.
const userRequestedReply = "Of course."

func escalationPrompt(reason metrics.EscalationReason) string {
	switch reason {
	case metrics.EscalationNoResults:
		return escalationPromptNoResults
	case metrics.EscalationLowConfidence:
		return escalationPromptLowConfidence
	case metrics.EscalationUserRequested:
		return escalationPromptUserRequested
	}
	return ""
}

// wantsHuman reports whether the query explicitly asks for a human,
// checked against the configured phrase list after classification.
func wantsHuman(query string, phrases []string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Package session manages conversation state across a Redis hot tier
// and a durable SQL store, with an in-memory fallback when the hot tier
// is unavailable.
package session

import "time"

// Roles for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Meta        *MessageMeta `json:"meta,omitempty"`
	SequenceNum int64        `json:"sequence_num"`
	CreatedAt   time.Time    `json:"created_at"`
}

// MessageMeta annotates assistant messages with the KB sources used,
// the answer confidence, and the query's cost. Later turns mine the
// source titles for targeted retrieval.
type MessageMeta struct {
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	CostUSD    float64  `json:"cost_usd,omitempty"`
}

// Session is the durable session record.
type Session struct {
	ID           string     `json:"id"`
	AgentName    string     `json:"agent_name"`
	UserType     string     `json:"user_type"`
	Identity     string     `json:"identity"`
	Summary      string     `json:"summary"`
	MessageCount int        `json:"message_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Ended reports whether the session has been closed.
func (s *Session) Ended() bool {
	return s.EndedAt != nil
}

// Context is the conversation context handed to downstream stages:
// the rolling summary plus the most recent messages, oldest first.
type Context struct {
	Summary  string
	Messages []Message

	// Degraded is true when the hot tier was unavailable and the
	// context came from the in-memory fallback.
	Degraded bool
}

// IdentityUsage aggregates lifetime usage for one caller identity.
type IdentityUsage struct {
	Identity     string    `json:"identity"`
	Sessions     int64     `json:"sessions"`
	Messages     int64     `json:"messages"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	UpdatedAt    time.Time `json:"updated_at"`
}

package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Feedback is one thumbs rating on an assistant message.
type Feedback struct {
	ID        string    `json:"feedback_id"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id,omitempty"`
	Rating    string    `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type feedbackStore struct {
	mu      sync.Mutex
	entries []Feedback
}

func newFeedbackStore() *feedbackStore {
	return &feedbackStore{}
}

func (s *feedbackStore) record(req *feedbackRequest) Feedback {
	f := Feedback{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		MessageID: req.MessageID,
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.entries = append(s.entries, f)
	s.mu.Unlock()
	return f
}

func (s *feedbackStore) bySession(sessionID string) []Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Feedback
	for _, f := range s.entries {
		if f.SessionID == sessionID {
			out = append(out, f)
		}
	}
	return out
}

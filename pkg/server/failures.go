package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Failure statuses.
const (
	failureStatusRecorded      = "recorded"
	failureStatusTicketCreated = "ticket_created"
	failureStatusDeclined      = "declined"
)

// Failure is one recorded agent-failure context awaiting a ticket
// decision.
type Failure struct {
	ID        string    `json:"failure_id"`
	SessionID string    `json:"session_id"`
	Context   string    `json:"context,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Status    string    `json:"status"`
	TicketID  string    `json:"ticket_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// failureStore keeps failure records in process memory. The ticket
// subsystem itself is an external collaborator; create-ticket here
// only transitions the record and mints a handoff id.
type failureStore struct {
	mu       sync.Mutex
	failures map[string]*Failure
}

func newFailureStore() *failureStore {
	return &failureStore{failures: make(map[string]*Failure)}
}

func (s *failureStore) record(sessionID, context, reason string) *Failure {
	f := &Failure{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Context:   context,
		Reason:    reason,
		Status:    failureStatusRecorded,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.failures[f.ID] = f
	s.mu.Unlock()
	return f
}

func (s *failureStore) createTicket(id string) (*Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.failures[id]
	if !ok {
		return nil, fmt.Errorf("failure %s not found", id)
	}
	if f.Status != failureStatusRecorded {
		return nil, fmt.Errorf("failure %s already %s", id, f.Status)
	}
	f.Status = failureStatusTicketCreated
	f.TicketID = uuid.NewString()
	return f, nil
}

func (s *failureStore) decline(id string) (*Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.failures[id]
	if !ok {
		return nil, fmt.Errorf("failure %s not found", id)
	}
	if f.Status != failureStatusRecorded {
		return nil, fmt.Errorf("failure %s already %s", id, f.Status)
	}
	f.Status = failureStatusDeclined
	return f, nil
}

package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

const maxMessageLen = 4000

// queryRequest is the body of POST /api/agent/{flavour}/.
type queryRequest struct {
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	UserInfo  *userInfo `json:"user_info,omitempty"`
}

type userInfo struct {
	AgentID string `json:"agent_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

func decodeQueryRequest(r *http.Request) (*queryRequest, error) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message is required")
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLen {
		return nil, fmt.Errorf("message exceeds %d characters", maxMessageLen)
	}
	return &req, nil
}

// identity selects the rate-limit and attribution identity: agent id,
// then email, then the request source address.
func (req *queryRequest) identity(r *http.Request) string {
	if req.UserInfo != nil {
		if req.UserInfo.AgentID != "" {
			return req.UserInfo.AgentID
		}
		if req.UserInfo.Email != "" {
			return req.UserInfo.Email
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type feedbackRequest struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
	Rating    string `json:"rating"`
	Comment   string `json:"comment,omitempty"`
}

func decodeFeedbackRequest(r *http.Request) (*feedbackRequest, error) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	switch req.Rating {
	case "up", "down":
	default:
		return nil, fmt.Errorf("rating must be 'up' or 'down'")
	}
	return &req, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

type endSessionRequest struct {
	SessionID string `json:"session_id"`
}

type failureRequest struct {
	SessionID string `json:"session_id"`
	Context   string `json:"context,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/answerdesk/answerdesk/pkg/orchestrator"
	"github.com/answerdesk/answerdesk/pkg/ratelimit"
	"github.com/answerdesk/answerdesk/pkg/session"
)

func (s *Server) handleAgentQuery(w http.ResponseWriter, r *http.Request) {
	flavour := chi.URLParam(r, "flavour")
	profile := s.cfg.Agents.Profile(flavour)
	if profile == nil {
		writeError(w, http.StatusNotFound, "unknown_agent", "unknown agent flavour")
		return
	}

	req, err := decodeQueryRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	identity := req.identity(r)
	decision, err := s.limiter.Check(r.Context(), ratelimit.Class(profile.RateLimitClass), identity)
	if decision != nil {
		ratelimit.SetHeaders(w, decision)
	}
	if err != nil && decision == nil {
		s.logger.Error("rate limit check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
		return
	}
	if !decision.Allowed {
		ratelimit.WriteLimited(w, decision)
		return
	}

	answer, err := s.orch.Handle(r.Context(), orchestrator.Query{
		SessionID: req.SessionID,
		Message:   req.Message,
		Identity:  identity,
		Profile:   profile,
	})
	if err != nil {
		// Exception detail is logged only; the client gets a generic
		// message.
		s.logger.Error("query failed", "flavour", flavour, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, buildQueryResponse(answer, profile.Visibility))
}

func (s *Server) handleFailureCreate(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "session_id is required")
		return
	}

	f := s.failures.record(req.SessionID, req.Context, req.Reason)
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleFailureTicket(w http.ResponseWriter, r *http.Request) {
	f, err := s.failures.createTicket(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleFailureDecline(w http.ResponseWriter, r *http.Request) {
	f, err := s.failures.decline(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFeedbackRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.feedback.record(req))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "session_id is required")
		return
	}

	if err := s.orch.EndSession(r.Context(), req.SessionID); err != nil {
		s.logger.Error("end session failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": req.SessionID, "ended": true})
}

func (s *Server) handleSessionUsage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		s.logger.Error("session lookup failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
		return
	}

	breakdown := s.accountant.SessionBreakdown(sessionID)
	identityUsage, err := s.sessions.UsageForIdentity(r.Context(), sess.Identity)
	if err != nil {
		s.logger.Error("identity usage lookup failed", "identity", sess.Identity, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"message_count":  sess.MessageCount,
		"ended":          sess.Ended(),
		"cost_breakdown": breakdown,
		"identity_usage": identityUsage,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdesk/answerdesk/pkg/accounting"
	"github.com/answerdesk/answerdesk/pkg/classifier"
	"github.com/answerdesk/answerdesk/pkg/config"
	"github.com/answerdesk/answerdesk/pkg/generator"
	"github.com/answerdesk/answerdesk/pkg/intelligence"
	"github.com/answerdesk/answerdesk/pkg/llms"
	"github.com/answerdesk/answerdesk/pkg/metrics"
	"github.com/answerdesk/answerdesk/pkg/orchestrator"
	"github.com/answerdesk/answerdesk/pkg/ratelimit"
	"github.com/answerdesk/answerdesk/pkg/retrieval"
	"github.com/answerdesk/answerdesk/pkg/session"
	"github.com/answerdesk/answerdesk/pkg/vector"
)

// testDurable is a minimal in-memory session.Durable.
type testDurable struct {
	sessions map[string]*session.Session
	messages map[string][]session.Message
	usage    map[string]*session.IdentityUsage
}

func newTestDurable() *testDurable {
	return &testDurable{
		sessions: make(map[string]*session.Session),
		messages: make(map[string][]session.Message),
		usage:    make(map[string]*session.IdentityUsage),
	}
}

func (d *testDurable) EnsureSession(ctx context.Context, id, agentName, userType, identity string) (*session.Session, error) {
	if sess, ok := d.sessions[id]; ok {
		cp := *sess
		return &cp, nil
	}
	sess := &session.Session{ID: id, AgentName: agentName, UserType: userType, Identity: identity, CreatedAt: time.Now()}
	d.sessions[id] = sess
	cp := *sess
	return &cp, nil
}

func (d *testDurable) GetSession(ctx context.Context, id string) (*session.Session, error) {
	sess, ok := d.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (d *testDurable) AppendMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	msg.SequenceNum = int64(len(d.messages[sessionID]) + 1)
	d.messages[sessionID] = append(d.messages[sessionID], *msg)
	d.sessions[sessionID].MessageCount++
	return nil
}

func (d *testDurable) Messages(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	return append([]session.Message(nil), d.messages[sessionID]...), nil
}

func (d *testDurable) MessageCount(ctx context.Context, sessionID string) (int, error) {
	return len(d.messages[sessionID]), nil
}

func (d *testDurable) UpdateSummary(ctx context.Context, sessionID, summary string) error { return nil }

func (d *testDurable) EndSession(ctx context.Context, sessionID string) error {
	sess, ok := d.sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	now := time.Now()
	sess.EndedAt = &now
	return nil
}

func (d *testDurable) RecordUsage(ctx context.Context, identity string, inputTokens, outputTokens int64, costUSD float64) error {
	u, ok := d.usage[identity]
	if !ok {
		u = &session.IdentityUsage{Identity: identity}
		d.usage[identity] = u
	}
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	u.CostUSD += costUSD
	return nil
}

func (d *testDurable) UsageForIdentity(ctx context.Context, identity string) (*session.IdentityUsage, error) {
	if u, ok := d.usage[identity]; ok {
		cp := *u
		return &cp, nil
	}
	return &session.IdentityUsage{Identity: identity}, nil
}

func (d *testDurable) Close() error { return nil }

// testChat answers the structured intelligence call with a full_rag
// verdict and everything else with a canned reply.
type testChat struct{}

func (testChat) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.CompletionResult, error) {
	usage := llms.Usage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 140}
	if req.Format != nil {
		return &llms.CompletionResult{
			Text: `{"is_followup":false,"can_answer_from_context":false,"matched_related_doc":"",
				"routing":"full_rag","enhanced_query":"export dashboard","category":"","intent":"","tags":[]}`,
			Usage: usage,
		}, nil
	}
	return &llms.CompletionResult{Text: "Open Settings and choose Export.", Usage: usage}, nil
}

func (testChat) ModelID() string { return "gpt-4o-mini" }

type testEmbedder struct{}

func (testEmbedder) Embed(ctx context.Context, text string) ([]float32, llms.Usage, error) {
	return []float32{1}, llms.Usage{PromptTokens: 3, TotalTokens: 3}, nil
}

func (testEmbedder) ModelID() string { return "text-embedding-3-small" }
func (testEmbedder) Dimension() int  { return 1 }

type testIndex struct {
	results []vector.Result
}

func (s *testIndex) Name() string { return "test" }

func (s *testIndex) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	return nil
}

func (s *testIndex) SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter *vector.Filter, threshold float32) ([]vector.Result, error) {
	return s.results, nil
}

func (s *testIndex) FetchByField(ctx context.Context, collection, field, value string, limit int) ([]vector.Result, error) {
	return nil, nil
}

func (s *testIndex) Delete(ctx context.Context, collection, id string) error { return nil }

func (s *testIndex) CreateCollection(ctx context.Context, collection string, dimension int) error {
	return nil
}

func (s *testIndex) Close() error { return nil }

func newTestServer(t *testing.T, queryLimit int64) (*Server, *testDurable) {
	t.Helper()

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.RateLimits.Backend = "memory"
	cfg.RateLimits.Classes["query"] = config.RateLimitRule{
		Limit: queryLimit, Window: config.Duration(time.Hour),
	}

	durable := newTestDurable()
	sessions := session.NewStore(nil, durable, nil, &cfg.Session, nil)
	accountant := accounting.NewAccountant(accounting.NewPriceTable(map[string]accounting.ModelPrice{
		"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
	}))

	index := &testIndex{results: []vector.Result{{
		ID:      "c1",
		Content: "Use Settings > Export.",
		Score:   0.9,
		Metadata: map[string]any{
			retrieval.FieldParentEntryID: "p1",
			retrieval.FieldParentTitle:   "Exporting Dashboards",
			retrieval.FieldEntryType:     "how_to",
			retrieval.FieldUserType:      "both",
		},
	}}}

	orch := orchestrator.New(
		sessions,
		classifier.New(),
		intelligence.NewService(testChat{}, nil),
		retrieval.NewRetriever(testEmbedder{}, index, "kb", &cfg.Retrieval, nil),
		generator.New(testChat{}, nil),
		accountant,
		metrics.NewCollector(),
		"gpt-4o-mini",
		"text-embedding-3-small",
		&cfg.Orchestrator,
		&cfg.Retrieval,
		nil,
	)

	limiter, err := ratelimit.NewLimiter(&cfg.RateLimits, ratelimit.NewMemoryStore())
	require.NoError(t, err)

	return New(cfg, orch, limiter, sessions, accountant, nil), durable
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestAgentQuery_Validation(t *testing.T) {
	srv, _ := newTestServer(t, 100)
	handler := srv.Handler()

	t.Run("unknown flavour", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/agent/nope/", map[string]any{"message": "hi"})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("empty message", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/agent/support/", map[string]any{"message": "   "})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "validation_error", decodeBody(t, rr)["error"])
	})

	t.Run("oversized message", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/agent/support/", map[string]any{
			"message": strings.Repeat("a", maxMessageLen+1),
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("the cap counts characters, not bytes", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/agent/support/", map[string]any{
			"message": strings.Repeat("é", maxMessageLen),
		})
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = postJSON(t, handler, "/api/agent/support/", map[string]any{
			"message": strings.Repeat("é", maxMessageLen+1),
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/agent/support/", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAgentQuery_VisibilityShapes(t *testing.T) {
	srv, _ := newTestServer(t, 100)
	handler := srv.Handler()
	query := map[string]any{
		"message":   "how do I export my dashboard?",
		"user_info": map[string]any{"agent_id": "agent-7"},
	}

	t.Run("minimal flavour hides operational fields", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/agent/customer/", query)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)

		assert.Contains(t, body, "response")
		assert.Contains(t, body, "session_id")
		assert.Contains(t, body, "requires_escalation")
		assert.NotContains(t, body, "confidence")
		assert.NotContains(t, body, "sources")
		assert.NotContains(t, body, "debug_metrics")
	})

	t.Run("sources flavour adds confidence and sources", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/agent/support/", query)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)

		assert.Contains(t, body, "confidence")
		assert.Contains(t, body, "sources")
		assert.NotContains(t, body, "debug_metrics")
	})

	t.Run("debug flavour exposes the metrics record", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/agent/test/", query)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)

		assert.Contains(t, body, "confidence")
		assert.Contains(t, body, "query_type")
		assert.Contains(t, body, "debug_metrics")
		assert.Contains(t, body, "context_debug")

		m, ok := body["debug_metrics"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "full_rag", m["routing"])
	})
}

func TestAgentQuery_RateLimit(t *testing.T) {
	srv, _ := newTestServer(t, 2)
	handler := srv.Handler()
	query := map[string]any{
		"message":   "how do I export?",
		"user_info": map[string]any{"agent_id": "limited-agent"},
	}

	for i := 0; i < 2; i++ {
		rr := postJSON(t, handler, "/api/agent/support/", query)
		require.Equal(t, http.StatusOK, rr.Code, "request %d within the limit", i+1)
		assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	}

	rr := postJSON(t, handler, "/api/agent/support/", query)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeBody(t, rr)["error"])

	t.Run("another identity is unaffected", func(t *testing.T) {
		other := map[string]any{
			"message":   "how do I export?",
			"user_info": map[string]any{"agent_id": "someone-else"},
		}
		rr := postJSON(t, handler, "/api/agent/support/", other)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestFailureLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, 100)
	handler := srv.Handler()

	rr := postJSON(t, handler, "/api/agent-failure/", map[string]any{
		"session_id": "s1",
		"context":    "assistant could not answer",
		"reason":     "no_results",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	body := decodeBody(t, rr)
	failureID, _ := body["failure_id"].(string)
	require.NotEmpty(t, failureID)
	assert.Equal(t, "recorded", body["status"])

	t.Run("create ticket transitions the record", func(t *testing.T) {
		rr := postJSON(t, handler, fmt.Sprintf("/api/agent-failure/%s/create-ticket", failureID), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)
		assert.Equal(t, "ticket_created", body["status"])
		assert.NotEmpty(t, body["ticket_id"])
	})

	t.Run("decline after ticket is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch,
			fmt.Sprintf("/api/agent-failure/%s/decline", failureID), strings.NewReader("{}"))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("missing session id is rejected", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/agent-failure/", map[string]any{"reason": "x"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestFeedback(t *testing.T) {
	srv, _ := newTestServer(t, 100)
	handler := srv.Handler()

	t.Run("valid feedback is recorded", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/feedback/", map[string]any{
			"session_id": "s1", "rating": "up", "comment": "helpful",
		})
		require.Equal(t, http.StatusCreated, rr.Code)
		body := decodeBody(t, rr)
		assert.NotEmpty(t, body["feedback_id"])
		assert.Equal(t, "up", body["rating"])
	})

	t.Run("bad rating is rejected", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/feedback/", map[string]any{
			"session_id": "s1", "rating": "meh",
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestSessionEndAndUsage(t *testing.T) {
	srv, _ := newTestServer(t, 100)
	handler := srv.Handler()

	rr := postJSON(t, handler, "/api/agent/support/", map[string]any{
		"message":   "how do I export?",
		"user_info": map[string]any{"agent_id": "agent-7"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	sessionID, _ := decodeBody(t, rr)["session_id"].(string)
	require.NotEmpty(t, sessionID)

	t.Run("usage endpoint reports the session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID+"/usage", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, sessionID, body["session_id"])
		assert.Equal(t, false, body["ended"])
		assert.Contains(t, body, "cost_breakdown")
		assert.Contains(t, body, "identity_usage")
	})

	t.Run("end closes the session", func(t *testing.T) {
		rr := postJSON(t, handler, "/api/sessions/end", map[string]any{"session_id": sessionID})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, decodeBody(t, rr)["ended"])
	})

	t.Run("unknown session usage is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/no-such/usage", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, 100)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])
}

package orchestrator

import (
	"context"
	"fmt"
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
	"github.com/answerdesk/answerdesk/pkg/retrieval"
	"github.com/answerdesk/answerdesk/pkg/session"
	"github.com/answerdesk/answerdesk/pkg/vector"
)

// memDurable implements session.Durable in memory for pipeline tests.
type memDurable struct {
	sessions map[string]*session.Session
	messages map[string][]session.Message
	usage    map[string]*session.IdentityUsage
}

func newMemDurable() *memDurable {
	return &memDurable{
		sessions: make(map[string]*session.Session),
		messages: make(map[string][]session.Message),
		usage:    make(map[string]*session.IdentityUsage),
	}
}

func (d *memDurable) EnsureSession(ctx context.Context, id, agentName, userType, identity string) (*session.Session, error) {
	if sess, ok := d.sessions[id]; ok {
		cp := *sess
		return &cp, nil
	}
	sess := &session.Session{ID: id, AgentName: agentName, UserType: userType, Identity: identity, CreatedAt: time.Now()}
	d.sessions[id] = sess
	cp := *sess
	return &cp, nil
}

func (d *memDurable) GetSession(ctx context.Context, id string) (*session.Session, error) {
	sess, ok := d.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (d *memDurable) AppendMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	msg.SequenceNum = int64(len(d.messages[sessionID]) + 1)
	stored := *msg
	if msg.Meta != nil {
		// Persist a snapshot, as a real store would.
		meta := *msg.Meta
		meta.Sources = append([]string(nil), msg.Meta.Sources...)
		stored.Meta = &meta
	}
	d.messages[sessionID] = append(d.messages[sessionID], stored)
	d.sessions[sessionID].MessageCount++
	return nil
}

func (d *memDurable) Messages(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	return append([]session.Message(nil), d.messages[sessionID]...), nil
}

func (d *memDurable) MessageCount(ctx context.Context, sessionID string) (int, error) {
	return len(d.messages[sessionID]), nil
}

func (d *memDurable) UpdateSummary(ctx context.Context, sessionID, summary string) error {
	if sess, ok := d.sessions[sessionID]; ok {
		sess.Summary = summary
	}
	return nil
}

func (d *memDurable) EndSession(ctx context.Context, sessionID string) error {
	sess, ok := d.sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	now := time.Now()
	sess.EndedAt = &now
	return nil
}

func (d *memDurable) RecordUsage(ctx context.Context, identity string, inputTokens, outputTokens int64, costUSD float64) error {
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

func (d *memDurable) UsageForIdentity(ctx context.Context, identity string) (*session.IdentityUsage, error) {
	if u, ok := d.usage[identity]; ok {
		cp := *u
		return &cp, nil
	}
	return &session.IdentityUsage{Identity: identity}, nil
}

func (d *memDurable) Close() error { return nil }

// routedChat answers the intelligence call (structured format set) with
// a canned verdict and every other call with a canned reply.
type routedChat struct {
	verdictJSON string
	reply       string
}

func (c *routedChat) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.CompletionResult, error) {
	usage := llms.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}
	if req.Format != nil {
		return &llms.CompletionResult{Text: c.verdictJSON, Usage: usage}, nil
	}
	return &llms.CompletionResult{Text: c.reply, Usage: usage}, nil
}

func (c *routedChat) ModelID() string { return "gpt-4o-mini" }

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, llms.Usage, error) {
	return []float32{1, 0}, llms.Usage{PromptTokens: 4, TotalTokens: 4}, nil
}

func (stubEmbedder) ModelID() string { return "text-embedding-3-small" }
func (stubEmbedder) Dimension() int  { return 2 }

// stubIndex serves one canned result set to every search.
type stubIndex struct {
	results []vector.Result
}

func (s *stubIndex) Name() string { return "stub" }

func (s *stubIndex) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	return nil
}

func (s *stubIndex) SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter *vector.Filter, threshold float32) ([]vector.Result, error) {
	return s.results, nil
}

func (s *stubIndex) FetchByField(ctx context.Context, collection, field, value string, limit int) ([]vector.Result, error) {
	return nil, nil
}

func (s *stubIndex) Delete(ctx context.Context, collection, id string) error { return nil }

func (s *stubIndex) CreateCollection(ctx context.Context, collection string, dimension int) error {
	return nil
}

func (s *stubIndex) Close() error { return nil }

func verdict(routing, enhanced string) string {
	return fmt.Sprintf(`{
		"is_followup": false,
		"can_answer_from_context": %t,
		"matched_related_doc": "",
		"routing": %q,
		"enhanced_query": %q,
		"category": "",
		"intent": "",
		"tags": []
	}`, routing == intelligence.RouteAnswerFromContext, routing, enhanced)
}

type pipeline struct {
	orch      *Orchestrator
	durable   *memDurable
	collector *metrics.Collector
	profile   *config.AgentProfile
}

func newPipeline(chat llms.Chat, index vector.Provider) *pipeline {
	sessionCfg := &config.SessionConfig{}
	sessionCfg.SetDefaults()
	retrievalCfg := &config.RetrievalConfig{}
	retrievalCfg.SetDefaults()
	orchCfg := &config.OrchestratorConfig{}
	orchCfg.SetDefaults()

	durable := newMemDurable()
	sessions := session.NewStore(nil, durable, nil, sessionCfg, nil)

	collector := metrics.NewCollector()
	accountant := accounting.NewAccountant(accounting.NewPriceTable(map[string]accounting.ModelPrice{
		"gpt-4o-mini":            {InputPer1M: 0.15, OutputPer1M: 0.60},
		"text-embedding-3-small": {InputPer1M: 0.02},
	}))

	orch := New(
		sessions,
		classifier.New(),
		intelligence.NewService(chat, nil),
		retrieval.NewRetriever(stubEmbedder{}, index, "kb", retrievalCfg, nil),
		generator.New(chat, nil),
		accountant,
		collector,
		"gpt-4o-mini",
		"text-embedding-3-small",
		orchCfg,
		retrievalCfg,
		nil,
	)

	return &pipeline{
		orch:      orch,
		durable:   durable,
		collector: collector,
		profile:   &config.AgentProfile{Name: "support", UserType: "internal", Visibility: config.VisibilitySources, RateLimitClass: "query"},
	}
}

func kbResult(id, parent, title string, score float32) vector.Result {
	return vector.Result{
		ID:      id,
		Content: "KB content for " + id,
		Score:   score,
		Metadata: map[string]any{
			retrieval.FieldParentEntryID: parent,
			retrieval.FieldParentTitle:   title,
			retrieval.FieldChunkIndex:    0,
			retrieval.FieldEntryType:     "how_to",
			retrieval.FieldUserType:      "both",
			retrieval.FieldCategory:      "reporting",
		},
	}
}

func TestHandle_GreetingShortcut(t *testing.T) {
	chat := &routedChat{verdictJSON: verdict("full_rag", "q"), reply: "should not run"}
	p := newPipeline(chat, &stubIndex{})

	answer, err := p.orch.Handle(context.Background(), Query{
		Message: "hello", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)

	assert.Equal(t, greetingReply, answer.Response)
	assert.False(t, answer.RequiresEscalation)
	assert.Equal(t, "greeting", answer.QueryType)
	assert.Empty(t, answer.Metrics.CostBreakdown.Entries, "the shortcut makes no billable calls")
	assert.Zero(t, answer.Metrics.CostBreakdown.TotalUSD)

	t.Run("the turn was still written back", func(t *testing.T) {
		msgs := p.durable.messages[answer.SessionID]
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello", msgs[0].Content)
		assert.Equal(t, greetingReply, msgs[1].Content)
	})
}

func TestHandle_UserRequestedEscalation(t *testing.T) {
	chat := &routedChat{verdictJSON: verdict("full_rag", "q"), reply: "should not run"}
	p := newPipeline(chat, &stubIndex{})

	answer, err := p.orch.Handle(context.Background(), Query{
		Message: "I want to speak to a human please", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)

	assert.True(t, answer.RequiresEscalation)
	assert.Equal(t, metrics.EscalationUserRequested, answer.Metrics.EscalationReason)
	assert.True(t, strings.HasPrefix(answer.Response, userRequestedReply))
	assert.Contains(t, answer.Response, "raise a ticket")
	assert.Empty(t, answer.Metrics.CostBreakdown.Entries, "no LLM calls before the short-circuit")
}

func TestHandle_GroundedAnswer(t *testing.T) {
	chat := &routedChat{
		verdictJSON: verdict("full_rag", "export dashboard"),
		reply:       "Open Settings and choose Export.",
	}
	index := &stubIndex{results: []vector.Result{kbResult("c1", "p1", "Exporting Dashboards", 0.88)}}
	p := newPipeline(chat, index)

	answer, err := p.orch.Handle(context.Background(), Query{
		Message: "how do I export my dashboard?", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)

	assert.Equal(t, "Open Settings and choose Export.", answer.Response)
	assert.False(t, answer.RequiresEscalation)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "Exporting Dashboards", answer.Sources[0].Title)
	assert.InDelta(t, 0.88, answer.Confidence, 1e-6)

	m := answer.Metrics
	assert.Equal(t, "howto", m.ClassifiedType)
	assert.Equal(t, "full_rag", m.Routing)
	assert.Equal(t, "export dashboard", m.EnhancedQuery)
	assert.Equal(t, 1, m.SourcesFound)
	assert.Equal(t, 1, m.SourcesUsed)
	assert.NotEmpty(t, m.SearchExecution.Attempts)

	t.Run("all three operations were billed", func(t *testing.T) {
		b := m.CostBreakdown
		assert.Greater(t, b.QueryIntelligenceUSD, 0.0)
		assert.Greater(t, b.EmbeddingUSD, 0.0)
		assert.Greater(t, b.ResponseGenerationUSD, 0.0)
	})

	t.Run("assistant message carries source metadata", func(t *testing.T) {
		msgs := p.durable.messages[answer.SessionID]
		require.Len(t, msgs, 2)
		require.NotNil(t, msgs[1].Meta)
		assert.Equal(t, []string{"Exporting Dashboards"}, msgs[1].Meta.Sources)
		assert.Greater(t, msgs[1].Meta.CostUSD, 0.0, "cost is set before the message is persisted")
		assert.InDelta(t, m.CostBreakdown.TotalUSD, msgs[1].Meta.CostUSD, 1e-9)
	})
}

func TestHandle_NoResultsEscalates(t *testing.T) {
	chat := &routedChat{
		verdictJSON: verdict("full_rag", "anything"),
		reply:       "I could not find a documented answer.",
	}
	p := newPipeline(chat, &stubIndex{})

	answer, err := p.orch.Handle(context.Background(), Query{
		Message: "how do I frobnicate the widget?", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)

	assert.True(t, answer.RequiresEscalation)
	assert.Equal(t, metrics.EscalationNoResults, answer.Metrics.EscalationReason)
	assert.True(t, strings.HasSuffix(answer.Response, escalationPromptNoResults))
	assert.Empty(t, answer.Sources)
	assert.Zero(t, answer.Metrics.SourcesFound)
}

func TestHandle_LowConfidenceEscalates(t *testing.T) {
	chat := &routedChat{
		verdictJSON: verdict("full_rag", "anything"),
		reply:       "This might help.",
	}
	index := &stubIndex{results: []vector.Result{kbResult("c1", "p1", "Some Doc", 0.42)}}
	p := newPipeline(chat, index)

	answer, err := p.orch.Handle(context.Background(), Query{
		Message: "how do I frobnicate?", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)

	assert.True(t, answer.RequiresEscalation)
	assert.Equal(t, metrics.EscalationLowConfidence, answer.Metrics.EscalationReason)
	assert.True(t, strings.HasSuffix(answer.Response, escalationPromptLowConfidence))
	assert.Len(t, answer.Sources, 1, "the answer still cites what it found")
}

func TestHandle_AnswerFromContextSkipsRetrieval(t *testing.T) {
	chat := &routedChat{
		verdictJSON: verdict(intelligence.RouteAnswerFromContext, "irrelevant"),
		reply:       "As I said, exports live under Settings.",
	}
	index := &stubIndex{results: []vector.Result{kbResult("c1", "p1", "Doc", 0.9)}}
	p := newPipeline(chat, index)
	ctx := context.Background()

	// Seed a prior turn so the context is non-empty and substantive.
	first, err := p.orch.Handle(ctx, Query{
		Message: "how do I export my dashboard?", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)

	answer, err := p.orch.Handle(ctx, Query{
		SessionID: first.SessionID,
		Message:   "where was that again?",
		Identity:  "alice",
		Profile:   p.profile,
	})
	require.NoError(t, err)

	assert.Equal(t, "answer_from_context", answer.Metrics.Routing)
	assert.Empty(t, answer.Sources)
	assert.Zero(t, answer.Metrics.SourcesFound)
	assert.Zero(t, answer.Metrics.SourcesUsed)
	assert.Empty(t, answer.Metrics.SearchExecution.Attempts, "retrieval did not run")
	assert.Zero(t, answer.Metrics.CostBreakdown.EmbeddingUSD)
	assert.Greater(t, answer.Metrics.CostBreakdown.ResponseGenerationUSD, 0.0)
}

func TestHandle_EndedSessionStartsFresh(t *testing.T) {
	chat := &routedChat{verdictJSON: verdict("full_rag", "q"), reply: "ok"}
	p := newPipeline(chat, &stubIndex{})
	ctx := context.Background()

	first, err := p.orch.Handle(ctx, Query{
		Message: "hello", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)
	require.NoError(t, p.orch.EndSession(ctx, first.SessionID))

	second, err := p.orch.Handle(ctx, Query{
		SessionID: first.SessionID,
		Message:   "hello again",
		Identity:  "alice",
		Profile:   p.profile,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID, "an ended id behaves as unknown")
}

func TestHandle_EmitsExactlyOneRecordPerQuery(t *testing.T) {
	chat := &routedChat{verdictJSON: verdict("full_rag", "q"), reply: "ok"}
	p := newPipeline(chat, &stubIndex{})
	ctx := context.Background()

	answer, err := p.orch.Handle(ctx, Query{
		Message: "how do I export?", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, p.collector.Pending(answer.SessionID))

	_, err = p.orch.Handle(ctx, Query{
		SessionID: answer.SessionID, Message: "hello", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.collector.Pending(answer.SessionID))

	t.Run("end flushes the buffer", func(t *testing.T) {
		require.NoError(t, p.orch.EndSession(ctx, answer.SessionID))
		assert.Zero(t, p.collector.Pending(answer.SessionID))
	})
}

func TestHandle_IdentityUsageAccumulates(t *testing.T) {
	chat := &routedChat{verdictJSON: verdict("full_rag", "q"), reply: "ok"}
	index := &stubIndex{results: []vector.Result{kbResult("c1", "p1", "Doc", 0.9)}}
	p := newPipeline(chat, index)

	_, err := p.orch.Handle(context.Background(), Query{
		Message: "how do I export?", Identity: "alice", Profile: p.profile,
	})
	require.NoError(t, err)

	usage, err := p.durable.UsageForIdentity(context.Background(), "alice")
	require.NoError(t, err)
	assert.Greater(t, usage.InputTokens, int64(0))
	assert.Greater(t, usage.CostUSD, 0.0)
}

func TestWantsHuman(t *testing.T) {
	cfg := &config.OrchestratorConfig{}
	cfg.SetDefaults()
	phrases := cfg.EscalationPhrases

	assert.True(t, wantsHuman("Please let me TALK TO SUPPORT", phrases))
	assert.True(t, wantsHuman("can you raise a ticket for this?", phrases))
	assert.False(t, wantsHuman("how do I export?", phrases))
}

func TestCollectSources(t *testing.T) {
	sources := collectSources([]retrieval.Chunk{
		{ParentTitle: "Doc A", SectionLabel: "Intro", Category: "x", Similarity: 0.7},
		{ParentTitle: "Doc A", Similarity: 0.9},
		{ParentTitle: "Doc B", Similarity: 0.8},
		{ParentTitle: "", Similarity: 0.99},
	})

	require.Len(t, sources, 2)
	assert.Equal(t, "Doc A", sources[0].Title)
	assert.InDelta(t, 0.9, sources[0].Confidence, 1e-9, "duplicates keep the best confidence")
	assert.Equal(t, "Doc B", sources[1].Title)
}

func TestFormatContext(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleUser, Content: "how do I export?"},
		{Role: session.RoleAssistant, Content: "Use Settings.", Meta: &session.MessageMeta{Sources: []string{"Exports"}}},
	}

	text := formatContext("earlier chat about billing", messages)
	assert.Contains(t, text, "Summary of earlier conversation: earlier chat about billing")
	assert.Contains(t, text, "user: how do I export?")
	assert.Contains(t, text, "assistant: Use Settings.")
	assert.Contains(t, text, "[sources: Exports]")

	assert.Empty(t, formatContext("", nil))
}

func TestKnownTitles(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleAssistant, Meta: &session.MessageMeta{Sources: []string{"A", "B"}}},
		{Role: session.RoleUser, Content: "thanks"},
		{Role: session.RoleAssistant, Meta: &session.MessageMeta{Sources: []string{"B", "C"}}},
		{Role: session.RoleAssistant},
	}
	assert.Equal(t, []string{"A", "B", "C"}, knownTitles(messages))
}

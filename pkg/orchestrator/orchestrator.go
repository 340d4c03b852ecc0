// Package orchestrator composes the query pipeline: classify, analyse,
// retrieve, generate, write back, and finalise exactly one metrics
// record per query.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/answerdesk/answerdesk/pkg/accounting"
	"github.com/answerdesk/answerdesk/pkg/classifier"
	"github.com/answerdesk/answerdesk/pkg/config"
	"github.com/answerdesk/answerdesk/pkg/generator"
	"github.com/answerdesk/answerdesk/pkg/intelligence"
	"github.com/answerdesk/answerdesk/pkg/metrics"
	"github.com/answerdesk/answerdesk/pkg/retrieval"
	"github.com/answerdesk/answerdesk/pkg/session"
)

const generationFailedReply = "I'm sorry, I ran into a problem while preparing an answer."

// Query is one incoming user turn.
type Query struct {
	SessionID string
	Message   string
	Identity  string
	Profile   *config.AgentProfile
}

// Source is one KB document cited by the answer.
type Source struct {
	Title      string  `json:"title"`
	Section    string  `json:"section,omitempty"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Answer is the pipeline result. The transport decides which fields
// each flavour exposes.
type Answer struct {
	Response           string
	SessionID          string
	Timestamp          time.Time
	RequiresEscalation bool

	Confidence               float64
	Sources                  []Source
	QueryType                string
	ClassificationConfidence float64

	Metrics metrics.QueryMetrics
	Context *ContextDebug
}

// Orchestrator drives the per-request state machine.
type Orchestrator struct {
	sessions   *session.Store
	classifier *classifier.Classifier
	intel      *intelligence.Service
	retriever  *retrieval.Retriever
	generator  *generator.Generator
	accountant *accounting.Accountant
	sink       metrics.Sink

	chatModel  string
	embedModel string

	cfg          *config.OrchestratorConfig
	retrievalCfg *config.RetrievalConfig
	logger       *slog.Logger
}

// New wires the pipeline.
func New(
	sessions *session.Store,
	cls *classifier.Classifier,
	intel *intelligence.Service,
	retriever *retrieval.Retriever,
	gen *generator.Generator,
	accountant *accounting.Accountant,
	sink metrics.Sink,
	chatModel, embedModel string,
	cfg *config.OrchestratorConfig,
	retrievalCfg *config.RetrievalConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessions:     sessions,
		classifier:   cls,
		intel:        intel,
		retriever:    retriever,
		generator:    gen,
		accountant:   accountant,
		sink:         sink,
		chatModel:    chatModel,
		embedModel:   embedModel,
		cfg:          cfg,
		retrievalCfg: retrievalCfg,
		logger:       logger,
	}
}

// Handle runs one query through the pipeline. Upstream failures
// degrade into escalation rather than surfacing as errors; only
// session-store hard failures return an error.
func (o *Orchestrator) Handle(ctx context.Context, q Query) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.DeadlineMs)*time.Millisecond)
	defer cancel()

	sessionID := q.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess, err := o.sessions.Begin(ctx, sessionID, q.Profile.Name, q.Profile.UserType, q.Identity)
	if errors.Is(err, session.ErrSessionEnded) {
		// An ended id behaves as unknown: start fresh.
		sessionID = uuid.NewString()
		sess, err = o.sessions.Begin(ctx, sessionID, q.Profile.Name, q.Profile.UserType, q.Identity)
	}
	if err != nil {
		return nil, err
	}

	rec := metrics.NewRecorder(sessionID, q.Message, o.sink)
	window := o.accountant.StartQuery(sessionID)

	// CLASSIFY
	stopClassify := rec.TimeClassification()
	cls := o.classifier.Classify(q.Message)
	stopClassify()
	rec.Update(func(m *metrics.QueryMetrics) {
		m.ClassifiedType = cls.Type
		m.ClassificationConfidence = cls.Confidence
	})

	// GREETING_SHORTCUT: no LLM calls, no retrieval, zero cost.
	if cls.Type == classifier.TypeGreeting {
		return o.finish(ctx, sess, q, rec, window, cls, greetingReply, nil, nil, nil)
	}

	// User-requested escalation short-circuits intelligence.
	if wantsHuman(q.Message, o.cfg.EscalationPhrases) {
		rec.Escalate(metrics.EscalationUserRequested)
		reply := userRequestedReply + escalationPromptUserRequested
		return o.finish(ctx, sess, q, rec, window, cls, reply, nil, nil, nil)
	}

	// Read conversation context.
	sctx, err := o.sessions.Context(ctx, sessionID)
	if err != nil {
		o.logger.Warn("context assembly failed, proceeding with empty context",
			"session_id", sessionID, "error", err)
		sctx = &session.Context{Degraded: true}
	}
	if sctx.Degraded {
		rec.Update(func(m *metrics.QueryMetrics) { m.SessionDegraded = true })
	}
	contextText := formatContext(sctx.Summary, sctx.Messages)
	titles := knownTitles(sctx.Messages)
	debug := &ContextDebug{
		Formatted:    contextText,
		Summary:      sctx.Summary,
		MessageCount: len(sctx.Messages),
		KnownTitles:  titles,
		Degraded:     sctx.Degraded,
	}

	// INTELLIGENCE: the single consolidated analysis call.
	stopIntel := rec.TimeQueryIntelligence()
	decision, intelUsage, err := o.intel.Analyze(ctx, q.Message, cls.Type, contextText, titles)
	stopIntel()
	if err != nil {
		o.logger.Warn("query intelligence unavailable, routing full_rag",
			"session_id", sessionID, "error", err)
		decision = &intelligence.Decision{
			Verdict:  intelligence.Verdict{Routing: intelligence.RouteFullRAG, EnhancedQuery: q.Message},
			Fallback: true,
		}
	} else {
		window.Record(accounting.OperationQueryIntelligence, o.chatModel,
			intelUsage.PromptTokens, intelUsage.CompletionTokens)
	}
	verdict := decision.Verdict
	rec.Update(func(m *metrics.QueryMetrics) {
		m.EnhancedQuery = verdict.EnhancedQuery
		m.Routing = verdict.Routing
		m.QueryIntelligenceFallback = decision.Fallback
	})

	// Branch on routing.
	if verdict.Routing == intelligence.RouteAnswerFromContext {
		reply := o.generate(ctx, rec, window, generator.Request{
			Mode:        generator.ModeContext,
			Query:       q.Message,
			ContextText: contextText,
		})
		return o.finish(ctx, sess, q, rec, window, cls, reply, nil, nil, debug)
	}

	// RETRIEVE
	res := o.retrieve(ctx, rec, window, retrieval.Request{
		Query:          verdict.EnhancedQuery,
		ClassifiedType: cls.Type,
		UserType:       q.Profile.UserType,
		Category:       verdict.Category,
		TargetTitle:    verdict.MatchedRelatedDoc,
	})

	if res == nil || len(res.Chunks) == 0 {
		// GENERATE_FALLBACK
		rec.Escalate(metrics.EscalationNoResults)
		reply := o.generate(ctx, rec, window, generator.Request{
			Mode:        generator.ModeFallback,
			Query:       q.Message,
			ContextText: contextText,
		})
		return o.finish(ctx, sess, q, rec, window, cls, reply, nil, res, debug)
	}

	// GENERATE (grounded)
	reply := o.generate(ctx, rec, window, generator.Request{
		Mode:        generator.ModeGrounded,
		Query:       q.Message,
		ContextText: contextText,
		Chunks:      res.Chunks,
	})
	if res.BestConfidence < o.cfg.LowConfidenceThreshold {
		rec.Escalate(metrics.EscalationLowConfidence)
	}

	sources := collectSources(res.Chunks)
	return o.finish(ctx, sess, q, rec, window, cls, reply, sources, res, debug)
}

// retrieve runs the retrieval pipeline and folds its outcome into the
// metrics record. A failed retrieval returns nil and degrades into the
// fallback branch.
func (o *Orchestrator) retrieve(ctx context.Context, rec *metrics.Recorder, window *accounting.QueryWindow, req retrieval.Request) *retrieval.Result {
	res, err := o.retriever.Retrieve(ctx, req)
	if err != nil {
		o.logger.Warn("retrieval failed", "error", err)
		return nil
	}

	// Embedding always bills exactly one entry; cache hits bill zero
	// tokens at zero cost.
	window.Record(accounting.OperationEmbedding, o.embedModel,
		res.EmbeddingUsage.PromptTokens, 0)

	rec.Update(func(m *metrics.QueryMetrics) {
		m.SearchExecution = metrics.SearchExecution{
			Attempts:            res.Attempts,
			FiltersApplied:      attemptNames(res.Attempts),
			DocumentsScanned:    res.DocumentsScanned,
			DocumentsMatched:    res.DocumentsMatched,
			DocumentsReturned:   res.DocumentsReturned,
			SimilarityThreshold: o.retrievalCfg.SimilarityThreshold,
			EmbeddingTimeMs:     res.EmbeddingTimeMs,
			SearchTimeMs:        res.SearchTimeMs,
			RerankTimeMs:        res.RerankTimeMs,
		}
		m.SourcesFound = len(res.Chunks)
		m.BestConfidence = res.BestConfidence
	})
	return res
}

// generate runs one response-generation call, always billing it, and
// degrades provider failures into an apology plus no_results
// escalation.
func (o *Orchestrator) generate(ctx context.Context, rec *metrics.Recorder, window *accounting.QueryWindow, req generator.Request) string {
	stop := rec.TimeResponseGeneration()
	text, usage, err := o.generator.Generate(ctx, req)
	stop()

	window.Record(accounting.OperationResponseGeneration, o.generator.ModelID(),
		usage.PromptTokens, usage.CompletionTokens)

	if err != nil {
		o.logger.Warn("response generation failed", "error", err)
		rec.Escalate(metrics.EscalationNoResults)
		return generationFailedReply
	}
	return text
}

// finish writes the turn back, finalises the metrics record, and
// assembles the answer.
func (o *Orchestrator) finish(
	ctx context.Context,
	sess *session.Session,
	q Query,
	rec *metrics.Recorder,
	window *accounting.QueryWindow,
	cls classifier.Result,
	reply string,
	sources []Source,
	res *retrieval.Result,
	debug *ContextDebug,
) (*Answer, error) {
	snapshot := rec.Snapshot()
	if snapshot.Escalated {
		if prompt := escalationPrompt(snapshot.EscalationReason); prompt != "" && !strings.HasSuffix(reply, prompt) {
			reply += prompt
		}
	}
	rec.Update(func(m *metrics.QueryMetrics) { m.SourcesUsed = len(sources) })

	// WRITE_BACK: user and assistant land adjacently under the session
	// lock; summarization may run inside. The assistant message carries
	// the cost known at answer time; summarization spend accrues to the
	// metrics breakdown only.
	meta := &session.MessageMeta{Confidence: snapshot.BestConfidence}
	for _, src := range sources {
		meta.Sources = append(meta.Sources, src.Title)
	}
	meta.CostUSD = window.Breakdown().TotalUSD
	exch, err := o.sessions.AppendExchange(ctx, sess, q.Message, reply, meta)
	if err != nil {
		o.logger.Error("write-back failed", "session_id", sess.ID, "error", err)
		rec.Update(func(m *metrics.QueryMetrics) { m.InvariantViolation = true })
	} else {
		if exch.Degraded {
			rec.Update(func(m *metrics.QueryMetrics) { m.SessionDegraded = true })
		}
		if exch.SummaryUsage.TotalTokens > 0 {
			window.Record(accounting.OperationSummarization, exch.SummaryModelID,
				exch.SummaryUsage.PromptTokens, exch.SummaryUsage.CompletionTokens)
		}
	}

	// FINALISE: exactly one metrics record per query.
	costs := window.Breakdown()
	final := rec.Finalize(costs)

	if err := o.sessions.RecordUsage(ctx, q.Identity,
		int64(costs.InputTokens), int64(costs.OutputTokens), costs.TotalUSD); err != nil {
		o.logger.Warn("failed to record identity usage", "identity", q.Identity, "error", err)
	}

	answer := &Answer{
		Response:                 reply,
		SessionID:                sess.ID,
		Timestamp:                time.Now().UTC(),
		RequiresEscalation:       final.Escalated,
		Confidence:               final.BestConfidence,
		Sources:                  sources,
		QueryType:                cls.Type,
		ClassificationConfidence: cls.Confidence,
		Metrics:                  final,
		Context:                  debug,
	}
	return answer, nil
}

// EndSession closes a session, drains its ledger into the identity
// aggregate, and flushes buffered metrics.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	if err := o.sessions.End(ctx, sessionID); err != nil {
		return err
	}
	o.accountant.EndSession(sessionID)
	if collector, ok := o.sink.(*metrics.Collector); ok {
		collector.FlushSession(sessionID)
	}
	return nil
}

func collectSources(chunks []retrieval.Chunk) []Source {
	byTitle := make(map[string]int)
	var sources []Source
	for _, c := range chunks {
		if c.ParentTitle == "" {
			continue
		}
		if i, seen := byTitle[c.ParentTitle]; seen {
			if c.Similarity > sources[i].Confidence {
				sources[i].Confidence = c.Similarity
			}
			continue
		}
		byTitle[c.ParentTitle] = len(sources)
		sources = append(sources, Source{
			Title:      c.ParentTitle,
			Section:    c.SectionLabel,
			Category:   c.Category,
			Confidence: c.Similarity,
		})
	}
	return sources
}

func attemptNames(attempts []metrics.FilterAttempt) []string {
	names := make([]string, 0, len(attempts))
	for _, a := range attempts {
		names = append(names, a.Name)
	}
	return names
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/answerdesk/answerdesk/pkg/config"
	"github.com/answerdesk/answerdesk/pkg/llms"
)

// Store coordinates the hot cache, the durable store, the in-memory
// fallback, and summarization. The durable store is the system of
// record; the cache only accelerates context assembly and may be down
// without failing queries.
type Store struct {
	cache      Cache
	durable    Durable
	summarizer *Summarizer
	ring       *fallbackRing
	locks      *lockRegistry
	cfg        *config.SessionConfig
	logger     *slog.Logger
}

// ExchangeResult reports what happened while committing one
// user/assistant pair.
type ExchangeResult struct {
	// Degraded is true when a tier missed the write: the cache could
	// not be updated or the durable append was buffered for re-flush.
	Degraded bool

	// SummaryUpdated is true when the rolling summary was refreshed.
	SummaryUpdated bool

	// SummaryUsage is the token usage of the summarization call, zero
	// when no summary ran.
	SummaryUsage llms.Usage

	// SummaryModelID identifies the model that produced the summary.
	SummaryModelID string
}

// NewStore wires the session tiers together. cache may be nil, in
// which case every context assembly takes the degraded path.
func NewStore(cache Cache, durable Durable, summarizer *Summarizer, cfg *config.SessionConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:      cache,
		durable:    durable,
		summarizer: summarizer,
		ring:       newFallbackRing(cfg.FallbackRingSize),
		locks:      newLockRegistry(),
		cfg:        cfg,
		logger:     logger,
	}
}

// Begin ensures the session exists and is open, creating the durable
// record on first use. Ended sessions are rejected with
// ErrSessionEnded.
func (s *Store) Begin(ctx context.Context, sessionID, agentName, userType, identity string) (*Session, error) {
	sess, err := s.durable.EnsureSession(ctx, sessionID, agentName, userType, identity)
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, ErrSessionEnded
	}

	if s.cache != nil {
		if err := s.cache.SaveState(ctx, sess); err != nil {
			s.logger.Warn("failed to refresh session cache state",
				"session_id", sessionID, "error", err)
		}
	}
	return sess, nil
}

// Get returns the durable session record.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	return s.durable.GetSession(ctx, sessionID)
}

// Context assembles the conversation context: the rolling summary plus
// the most recent messages, oldest first, capped at the configured
// window. A cold or unreachable cache falls through to the durable log;
// only when the durable read also fails does the fallback ring serve
// the window and the result is flagged degraded.
func (s *Store) Context(ctx context.Context, sessionID string) (*Context, error) {
	summary := ""
	var messages []Message
	cacheDown := s.cache == nil

	if s.cache != nil {
		state, err := s.cache.LoadState(ctx, sessionID)
		switch {
		case err == nil:
			summary = state.Summary
		case errors.Is(err, ErrSessionNotFound):
			// Cold cache; the durable tier fills in below.
		default:
			cacheDown = true
		}

		if !cacheDown {
			messages, err = s.cache.RecentMessages(ctx, sessionID)
			if err != nil {
				cacheDown = true
			}
		}
	}

	degraded := false
	if len(messages) == 0 {
		durableMsgs, err := s.durable.Messages(ctx, sessionID, s.cfg.CacheRecentMessages)
		if err != nil {
			s.logger.Warn("session tiers unavailable, using fallback ring",
				"session_id", sessionID, "error", err)
			messages = s.ring.messages(sessionID)
			degraded = true
		} else {
			messages = durableMsgs
			if cacheDown && s.cache != nil {
				s.logger.Warn("session cache unavailable, served context from durable store",
					"session_id", sessionID)
			} else if !cacheDown && s.cache != nil && len(durableMsgs) > 0 {
				s.repopulateCache(ctx, sessionID, durableMsgs)
			}
		}
	}

	if summary == "" && !degraded {
		sess, err := s.durable.GetSession(ctx, sessionID)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		if sess != nil {
			summary = sess.Summary
		}
	}

	if n := s.cfg.ContextMessages; n > 0 && len(messages) > n {
		messages = messages[len(messages)-n:]
	}

	return &Context{Summary: summary, Messages: messages, Degraded: degraded}, nil
}

// AppendExchange commits a user/assistant pair under the session lock
// so the two messages land adjacently. The durable append is retried
// with bounded backoff; on definitive failure the message waits in the
// pending buffer and is re-flushed on the next successful append, so a
// durable outage degrades the write instead of failing it. When the
// summary interval is crossed the rolling summary is refreshed, and
// the previous summary survives a failed refresh.
func (s *Store) AppendExchange(ctx context.Context, sess *Session, userText, assistantText string, assistantMeta *MessageMeta) (*ExchangeResult, error) {
	if sess.Ended() {
		return nil, ErrSessionEnded
	}

	unlock := s.locks.acquire(sess.ID)
	defer unlock()

	if max := s.cfg.MaxMessages; max > 0 {
		count, err := s.durable.MessageCount(ctx, sess.ID)
		if err != nil {
			s.logger.Warn("message count unavailable, skipping session cap check",
				"session_id", sess.ID, "error", err)
		} else if count+2 > max {
			return nil, ErrSessionFull
		}
	}

	result := &ExchangeResult{}
	pair := []Message{
		{ID: uuid.NewString(), Role: RoleUser, Content: userText},
		{ID: uuid.NewString(), Role: RoleAssistant, Content: assistantText, Meta: assistantMeta},
	}

	var count int64
	for i := range pair {
		if !s.commitDurable(ctx, sess.ID, &pair[i]) {
			result.Degraded = true
		}

		s.ring.append(sess.ID, pair[i])

		if s.cache == nil {
			result.Degraded = true
			continue
		}
		n, err := s.cache.AppendMessage(ctx, sess.ID, pair[i])
		if err != nil {
			result.Degraded = true
			s.logger.Warn("failed to append message to cache",
				"session_id", sess.ID, "error", err)
			continue
		}
		count = n
	}
	sess.MessageCount += 2

	if s.summarizer != nil {
		after := int(count)
		if after == 0 {
			// No cache counter this turn; the session count stands in.
			after = sess.MessageCount
		}
		if s.summarizer.Crossed(after-2, after) {
			s.refreshSummary(ctx, sess, result)
		}
	}

	return result, nil
}

// commitDurable flushes any messages left over from a previous outage,
// then appends the new message. Ordering is preserved: a message is
// never written ahead of older pending ones.
func (s *Store) commitDurable(ctx context.Context, sessionID string, msg *Message) bool {
	if !s.flushPending(ctx, sessionID) {
		s.ring.bufferPending(sessionID, *msg)
		return false
	}
	if err := s.appendDurable(ctx, sessionID, msg); err != nil {
		s.logger.Warn("durable append failed, buffering message for re-flush",
			"session_id", sessionID, "error", err)
		s.ring.bufferPending(sessionID, *msg)
		return false
	}
	return true
}

func (s *Store) flushPending(ctx context.Context, sessionID string) bool {
	for {
		msg, ok := s.ring.peekPending(sessionID)
		if !ok {
			return true
		}
		if err := s.durable.AppendMessage(ctx, sessionID, &msg); err != nil {
			return false
		}
		s.ring.popPending(sessionID)
	}
}

const durableAppendAttempts = 3

func (s *Store) appendDurable(ctx context.Context, sessionID string, msg *Message) error {
	var err error
	delay := 25 * time.Millisecond
	for attempt := 0; attempt < durableAppendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = s.durable.AppendMessage(ctx, sessionID, msg); err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to persist message: %w", err)
}

// repopulateCache rebuilds the recent window after an eviction and
// seeds the message counter from the durable total so the summary
// cadence is unaffected.
func (s *Store) repopulateCache(ctx context.Context, sessionID string, msgs []Message) {
	total, err := s.durable.MessageCount(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to repopulate session cache",
			"session_id", sessionID, "error", err)
		return
	}
	if err := s.cache.RestoreMessages(ctx, sessionID, msgs, int64(total)); err != nil {
		s.logger.Warn("failed to repopulate session cache",
			"session_id", sessionID, "error", err)
	}
}

func (s *Store) refreshSummary(ctx context.Context, sess *Session, result *ExchangeResult) {
	recent := s.ring.messages(sess.ID)
	if s.cache != nil && !result.Degraded {
		if cached, err := s.cache.RecentMessages(ctx, sess.ID); err == nil && len(cached) > 0 {
			recent = cached
		}
	}

	summary, usage, err := s.summarizer.Summarize(ctx, sess.Summary, recent)
	result.SummaryUsage = usage
	result.SummaryModelID = s.summarizer.ModelID()
	if err != nil {
		s.logger.Warn("summary refresh failed, keeping previous summary",
			"session_id", sess.ID, "error", err)
		return
	}
	if summary == sess.Summary {
		return
	}

	if err := s.durable.UpdateSummary(ctx, sess.ID, summary); err != nil {
		s.logger.Warn("failed to persist summary", "session_id", sess.ID, "error", err)
		return
	}
	sess.Summary = summary
	result.SummaryUpdated = true

	if s.cache != nil {
		if err := s.cache.SaveState(ctx, sess); err != nil {
			s.logger.Warn("failed to cache summary", "session_id", sess.ID, "error", err)
		}
	}
}

// End closes the session and evicts its hot state. Idempotent.
func (s *Store) End(ctx context.Context, sessionID string) error {
	if err := s.durable.EndSession(ctx, sessionID); err != nil {
		return err
	}
	s.ring.drop(sessionID)
	if s.cache != nil {
		if err := s.cache.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("failed to evict session cache", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// RecordUsage folds a query's totals into the identity aggregate.
func (s *Store) RecordUsage(ctx context.Context, identity string, inputTokens, outputTokens int64, costUSD float64) error {
	return s.durable.RecordUsage(ctx, identity, inputTokens, outputTokens, costUSD)
}

// UsageForIdentity returns the lifetime aggregate for an identity.
func (s *Store) UsageForIdentity(ctx context.Context, identity string) (*IdentityUsage, error) {
	return s.durable.UsageForIdentity(ctx, identity)
}

// Close releases both tiers.
func (s *Store) Close() error {
	var firstErr error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.durable.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

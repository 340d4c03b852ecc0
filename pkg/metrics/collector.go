package metrics

import (
	"log/slog"
	"sync"
)

// Collector buffers finalised records per session for the end-of-session
// batch flush and fans them out to secondary sinks (observability,
// logging).
type Collector struct {
	mu       sync.Mutex
	buffered map[string][]QueryMetrics
	sinks    []Sink
}

// NewCollector creates a collector. Additional sinks receive every
// record as it is emitted; the per-session buffer holds records until
// FlushSession.
func NewCollector(sinks ...Sink) *Collector {
	return &Collector{
		buffered: make(map[string][]QueryMetrics),
		sinks:    sinks,
	}
}

// Emit implements Sink.
func (c *Collector) Emit(m QueryMetrics) {
	c.mu.Lock()
	c.buffered[m.SessionID] = append(c.buffered[m.SessionID], m)
	c.mu.Unlock()

	for _, s := range c.sinks {
		s.Emit(m)
	}
}

// FlushSession drains and returns the session's buffered records.
func (c *Collector) FlushSession(sessionID string) []QueryMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	records := c.buffered[sessionID]
	delete(c.buffered, sessionID)
	return records
}

// Pending returns the number of buffered records for a session.
func (c *Collector) Pending(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffered[sessionID])
}

// LogSink writes a structured log line per record.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(m QueryMetrics) {
	slog.Info("query finalised",
		"session_id", m.SessionID,
		"type", m.ClassifiedType,
		"routing", m.Routing,
		"sources_found", m.SourcesFound,
		"best_confidence", m.BestConfidence,
		"total_ms", m.TotalTimeMs,
		"cost_usd", m.CostBreakdown.TotalUSD,
		"escalated", m.Escalated,
		"reason", m.EscalationReason,
	)
}

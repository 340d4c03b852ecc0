package metrics

import (
	"sync"
	"time"

	"github.com/answerdesk/answerdesk/pkg/accounting"
)

// Recorder accumulates one QueryMetrics over the lifetime of a request
// and guarantees it is emitted exactly once.
type Recorder struct {
	mu    sync.Mutex
	m     QueryMetrics
	start time.Time
	done  bool
	sink  Sink
}

// Sink receives finalised records.
type Sink interface {
	Emit(m QueryMetrics)
}

// NewRecorder starts a recorder for one query.
func NewRecorder(sessionID, queryText string, sink Sink) *Recorder {
	return &Recorder{
		m: QueryMetrics{
			SessionID:        sessionID,
			Timestamp:        time.Now(),
			QueryText:        queryText,
			EscalationReason: EscalationNone,
		},
		start: time.Now(),
		sink:  sink,
	}
}

// TimeClassification returns a stop function recording the phase duration.
func (r *Recorder) TimeClassification() func() {
	start := time.Now()
	return func() {
		r.mu.Lock()
		r.m.ClassificationTimeMs = time.Since(start).Milliseconds()
		r.mu.Unlock()
	}
}

// TimeQueryIntelligence returns a stop function recording the phase duration.
func (r *Recorder) TimeQueryIntelligence() func() {
	start := time.Now()
	return func() {
		r.mu.Lock()
		r.m.QueryIntelligenceTimeMs = time.Since(start).Milliseconds()
		r.mu.Unlock()
	}
}

// TimeResponseGeneration returns a stop function recording the phase duration.
func (r *Recorder) TimeResponseGeneration() func() {
	start := time.Now()
	return func() {
		r.mu.Lock()
		r.m.ResponseGenerationTimeMs = time.Since(start).Milliseconds()
		r.mu.Unlock()
	}
}

// Update mutates the record under the recorder lock.
func (r *Recorder) Update(fn func(m *QueryMetrics)) {
	r.mu.Lock()
	fn(&r.m)
	r.mu.Unlock()
}

// Escalate marks the record escalated with the given reason. The first
// reason wins.
func (r *Recorder) Escalate(reason EscalationReason) {
	r.mu.Lock()
	if !r.m.Escalated {
		r.m.Escalated = true
		r.m.EscalationReason = reason
	}
	r.mu.Unlock()
}

// Finalize stamps the total time, attaches the cost breakdown, emits the
// record, and returns it. Subsequent calls return the already-emitted
// record without emitting again.
func (r *Recorder) Finalize(costs accounting.CostBreakdown) QueryMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.m
	}
	r.done = true
	r.m.TotalTimeMs = time.Since(r.start).Milliseconds()
	r.m.CostBreakdown = costs
	if r.sink != nil {
		r.sink.Emit(r.m)
	}
	return r.m
}

// Snapshot returns a copy of the record as it stands.
func (r *Recorder) Snapshot() QueryMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}

package accounting

import (
	"sync"
	"time"
)

// Accountant aggregates TokenUsage per session and operation. Safe for
// concurrent use from unrelated requests.
type Accountant struct {
	prices *PriceTable

	mu       sync.Mutex
	sessions map[string]*CostBreakdown
}

// NewAccountant creates an accountant over the given price table.
func NewAccountant(prices *PriceTable) *Accountant {
	return &Accountant{
		prices:   prices,
		sessions: make(map[string]*CostBreakdown),
	}
}

// record computes cost at current prices and files the entry under the
// session ledger.
func (a *Accountant) record(sessionID string, op Operation, modelID string, inputTokens, outputTokens int) TokenUsage {
	usage := TokenUsage{
		Operation:    op,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		ModelID:      modelID,
		CostUSD:      a.prices.Cost(modelID, inputTokens, outputTokens),
		RecordedAt:   time.Now(),
	}

	a.mu.Lock()
	ledger, ok := a.sessions[sessionID]
	if !ok {
		ledger = &CostBreakdown{}
		a.sessions[sessionID] = ledger
	}
	ledger.add(usage)
	a.mu.Unlock()

	return usage
}

// SessionBreakdown returns a copy of the session's running totals.
func (a *Accountant) SessionBreakdown(sessionID string) CostBreakdown {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ledger, ok := a.sessions[sessionID]; ok {
		cp := *ledger
		cp.Entries = append([]TokenUsage(nil), ledger.Entries...)
		return cp
	}
	return CostBreakdown{}
}

// EndSession drains and returns the session ledger.
func (a *Accountant) EndSession(sessionID string) CostBreakdown {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ledger, ok := a.sessions[sessionID]; ok {
		delete(a.sessions, sessionID)
		return *ledger
	}
	return CostBreakdown{}
}

// StartQuery opens a per-query window. Entries recorded through the
// window accrue to both the window and the session ledger.
func (a *Accountant) StartQuery(sessionID string) *QueryWindow {
	return &QueryWindow{acct: a, sessionID: sessionID}
}

// QueryWindow scopes usage recording to a single query.
type QueryWindow struct {
	acct      *Accountant
	sessionID string

	mu      sync.Mutex
	entries []TokenUsage
}

// Record files one external call against the window.
func (w *QueryWindow) Record(op Operation, modelID string, inputTokens, outputTokens int) TokenUsage {
	usage := w.acct.record(w.sessionID, op, modelID, inputTokens, outputTokens)
	w.mu.Lock()
	w.entries = append(w.entries, usage)
	w.mu.Unlock()
	return usage
}

// Breakdown assembles the window's cost breakdown.
func (w *QueryWindow) Breakdown() CostBreakdown {
	w.mu.Lock()
	defer w.mu.Unlock()
	var b CostBreakdown
	for _, u := range w.entries {
		b.add(u)
	}
	return b
}

// Entries returns a copy of the recorded entries.
func (w *QueryWindow) Entries() []TokenUsage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]TokenUsage(nil), w.entries...)
}

package accounting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrices() *PriceTable {
	return NewPriceTable(map[string]ModelPrice{
		"gpt-4o-mini":            {InputPer1M: 0.15, OutputPer1M: 0.60},
		"text-embedding-3-small": {InputPer1M: 0.02, OutputPer1M: 0},
	})
}

func TestPriceTable_Cost(t *testing.T) {
	prices := testPrices()

	t.Run("known model", func(t *testing.T) {
		cost := prices.Cost("gpt-4o-mini", 1_000_000, 1_000_000)
		assert.InDelta(t, 0.75, cost, 1e-9)
	})

	t.Run("unknown model costs zero", func(t *testing.T) {
		assert.Zero(t, prices.Cost("no-such-model", 5000, 5000))
	})

	t.Run("embedding output side is free", func(t *testing.T) {
		cost := prices.Cost("text-embedding-3-small", 2_000_000, 0)
		assert.InDelta(t, 0.04, cost, 1e-9)
	})
}

func TestQueryWindow_Breakdown(t *testing.T) {
	acct := NewAccountant(testPrices())
	window := acct.StartQuery("sess-1")

	window.Record(OperationQueryIntelligence, "gpt-4o-mini", 1000, 200)
	window.Record(OperationEmbedding, "text-embedding-3-small", 50, 0)
	window.Record(OperationResponseGeneration, "gpt-4o-mini", 3000, 500)

	b := window.Breakdown()
	assert.Len(t, b.Entries, 3)
	assert.Equal(t, 4050, b.InputTokens)
	assert.Equal(t, 700, b.OutputTokens)
	assert.Greater(t, b.QueryIntelligenceUSD, 0.0)
	assert.Greater(t, b.EmbeddingUSD, 0.0)
	assert.Greater(t, b.ResponseGenerationUSD, 0.0)
	assert.Zero(t, b.SummarizationUSD)

	sum := b.QueryIntelligenceUSD + b.EmbeddingUSD + b.ResponseGenerationUSD + b.SummarizationUSD
	assert.InDelta(t, b.TotalUSD, sum, 1e-12)
}

func TestAccountant_CostFrozenAtRecordTime(t *testing.T) {
	prices := NewPriceTable(map[string]ModelPrice{
		"gpt-4o-mini": {InputPer1M: 1.0, OutputPer1M: 1.0},
	})
	acct := NewAccountant(prices)
	window := acct.StartQuery("sess-1")

	usage := window.Record(OperationResponseGeneration, "gpt-4o-mini", 1_000_000, 0)
	require.InDelta(t, 1.0, usage.CostUSD, 1e-9)

	// A price change after recording must not alter the emitted entry.
	prices.mu.Lock()
	prices.models["gpt-4o-mini"] = ModelPrice{InputPer1M: 100.0, OutputPer1M: 100.0}
	prices.mu.Unlock()

	b := acct.SessionBreakdown("sess-1")
	require.Len(t, b.Entries, 1)
	assert.InDelta(t, 1.0, b.Entries[0].CostUSD, 1e-9)
	assert.InDelta(t, 1.0, b.TotalUSD, 1e-9)
}

func TestAccountant_SessionLedger(t *testing.T) {
	acct := NewAccountant(testPrices())

	w1 := acct.StartQuery("sess-1")
	w1.Record(OperationResponseGeneration, "gpt-4o-mini", 100, 10)
	w2 := acct.StartQuery("sess-1")
	w2.Record(OperationQueryIntelligence, "gpt-4o-mini", 200, 20)

	t.Run("windows accrue to the session", func(t *testing.T) {
		b := acct.SessionBreakdown("sess-1")
		assert.Len(t, b.Entries, 2)
		assert.Equal(t, 300, b.InputTokens)
		assert.Equal(t, 30, b.OutputTokens)
	})

	t.Run("breakdown returns an isolated copy", func(t *testing.T) {
		b := acct.SessionBreakdown("sess-1")
		b.Entries[0].InputTokens = 999999
		again := acct.SessionBreakdown("sess-1")
		assert.Equal(t, 100, again.Entries[0].InputTokens)
	})

	t.Run("end drains the ledger", func(t *testing.T) {
		drained := acct.EndSession("sess-1")
		assert.Len(t, drained.Entries, 2)
		assert.Empty(t, acct.SessionBreakdown("sess-1").Entries)
	})

	t.Run("unknown session breaks down empty", func(t *testing.T) {
		b := acct.SessionBreakdown("nope")
		assert.Zero(t, b.TotalUSD)
		assert.Empty(t, b.Entries)
	})
}

// Package observability exposes engine metrics via OpenTelemetry with a
// Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	qmetrics "github.com/answerdesk/answerdesk/pkg/metrics"
)

// Metrics holds the engine's OTel instruments.
type Metrics struct {
	enabled bool

	queryDuration   metric.Float64Histogram
	queries         metric.Int64Counter
	tokens          metric.Int64Counter
	escalations     metric.Int64Counter
	verdictFallback metric.Int64Counter
	searchAttempts  metric.Int64Counter
}

// Init creates the meter provider with a Prometheus reader and the
// engine instruments. When disabled, all recording calls are no-ops.
func Init(ctx context.Context, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("answerdesk")

	m := &Metrics{enabled: true}

	if m.queryDuration, err = meter.Float64Histogram(
		"answerdesk_query_duration_seconds",
		metric.WithDescription("End-to-end query duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	if m.queries, err = meter.Int64Counter(
		"answerdesk_queries_total",
		metric.WithDescription("Total queries by routing decision"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	if m.tokens, err = meter.Int64Counter(
		"answerdesk_llm_tokens_total",
		metric.WithDescription("Total LLM tokens by direction"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tokens counter: %w", err)
	}

	if m.escalations, err = meter.Int64Counter(
		"answerdesk_escalations_total",
		metric.WithDescription("Total escalated queries by reason"),
	); err != nil {
		return nil, fmt.Errorf("failed to create escalations counter: %w", err)
	}

	if m.verdictFallback, err = meter.Int64Counter(
		"answerdesk_query_intelligence_fallback_total",
		metric.WithDescription("Query intelligence verdicts replaced by the fallback"),
	); err != nil {
		return nil, fmt.Errorf("failed to create fallback counter: %w", err)
	}

	if m.searchAttempts, err = meter.Int64Counter(
		"answerdesk_search_attempts_total",
		metric.WithDescription("Progressive fallback search attempts by stage"),
	); err != nil {
		return nil, fmt.Errorf("failed to create search attempts counter: %w", err)
	}

	return m, nil
}

// Emit implements metrics.Sink, mirroring each per-query record into the
// OTel instruments.
func (m *Metrics) Emit(q qmetrics.QueryMetrics) {
	if m == nil || !m.enabled {
		return
	}
	ctx := context.Background()

	routing := attribute.String("routing", q.Routing)
	m.queryDuration.Record(ctx, float64(q.TotalTimeMs)/1000.0, metric.WithAttributes(routing))
	m.queries.Add(ctx, 1, metric.WithAttributes(routing,
		attribute.String("type", q.ClassifiedType)))
	m.tokens.Add(ctx, int64(q.CostBreakdown.InputTokens),
		metric.WithAttributes(attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(q.CostBreakdown.OutputTokens),
		metric.WithAttributes(attribute.String("direction", "output")))

	if q.Escalated {
		m.escalations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(q.EscalationReason))))
	}
	if q.QueryIntelligenceFallback {
		m.verdictFallback.Add(ctx, 1)
	}
	for _, a := range q.SearchExecution.Attempts {
		m.searchAttempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", a.Name),
			attribute.Bool("hit", a.Results > 0)))
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

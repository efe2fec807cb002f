// Package observability exposes Prometheus metrics for the query pipeline
// and its backends through an OpenTelemetry meter.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics *Metrics
	metricsMu     sync.RWMutex
)

// Metrics records pipeline, LLM, and HTTP measurements. All Record methods
// are nil-safe so call sites never need to guard against a disabled setup.
type Metrics struct {
	queryDuration metric.Float64Histogram
	queriesTotal  metric.Int64Counter
	queryErrors   metric.Int64Counter
	stageDuration metric.Float64Histogram

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// InitMetrics builds the meter provider with a Prometheus reader and
// registers every instrument. Scraping happens via MetricsHandler.
func InitMetrics(_ context.Context) (*Metrics, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter("bvrag")

	m := &Metrics{}

	if m.queryDuration, err = meter.Float64Histogram(
		"bvrag_query_duration_seconds",
		metric.WithDescription("End-to-end query duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}
	if m.queriesTotal, err = meter.Int64Counter(
		"bvrag_queries_total",
		metric.WithDescription("Total queries answered"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}
	if m.queryErrors, err = meter.Int64Counter(
		"bvrag_query_errors_total",
		metric.WithDescription("Total queries that returned a structured error"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query errors counter: %w", err)
	}
	if m.stageDuration, err = meter.Float64Histogram(
		"bvrag_stage_duration_seconds",
		metric.WithDescription("Per-stage pipeline duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}
	if m.llmDuration, err = meter.Float64Histogram(
		"bvrag_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"bvrag_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the LLM"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"bvrag_llm_tokens_output_total",
		metric.WithDescription("Total output tokens returned by the LLM"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}
	if m.llmErrors, err = meter.Int64Counter(
		"bvrag_llm_errors_total",
		metric.WithDescription("Total LLM call failures"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram(
		"bvrag_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter(
		"bvrag_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return m, nil
}

// RecordQuery records one completed pipeline turn.
func (m *Metrics) RecordQuery(ctx context.Context, inputMode, confidence string, duration time.Duration, err error) {
	if m == nil || m.queryDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("input_mode", inputMode),
	}
	m.queryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if err != nil {
		m.queryErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	m.queriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("input_mode", inputMode),
		attribute.String("confidence", confidence),
	))
}

// RecordStages translates a pipeline timing map (milliseconds per stage)
// into the per-stage histogram.
func (m *Metrics) RecordStages(ctx context.Context, timing map[string]int64) {
	if m == nil || m.stageDuration == nil {
		return
	}
	for stage, ms := range timing {
		if stage == "total_ms" {
			continue
		}
		m.stageDuration.Record(ctx, float64(ms)/1000,
			metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// RecordLLMCall records one model invocation.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}
	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil {
		m.llmErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordHTTPRequest records one served HTTP request against its route pattern.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", statusCode),
	}
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder, which may be nil.
func GetGlobalMetrics() *Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

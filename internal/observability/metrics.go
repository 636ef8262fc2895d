package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics covering the golden signals of a
// fold run: how long runs and stages take, how often they end in each
// status, and how often the safety machinery intervenes.
type Metrics struct {
	meter metric.Meter

	// Run metrics
	RunDuration metric.Float64Histogram
	RunsTotal   metric.Int64Counter

	// Stage metrics
	StageDuration metric.Float64Histogram
	StageOutcomes metric.Int64Counter

	// Safety metrics
	WatchdogKills    metric.Int64Counter
	AdmissionDenials metric.Int64Counter

	// Notification metrics
	NotifyDelivered metric.Int64Counter
	NotifyFailed    metric.Int64Counter
	NotifyDropped   metric.Int64Counter

	// Status API metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("foldwarden")
	m := &Metrics{meter: meter}

	// Run metrics
	m.RunDuration, err = meter.Float64Histogram(
		"fold_duration_seconds",
		metric.WithDescription("End-to-end fold run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(60, 300, 600, 1200, 1800, 3600, 7200, 14400, 28800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsTotal, err = meter.Int64Counter(
		"fold_runs_total",
		metric.WithDescription("Total fold runs by final status"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Stage metrics
	m.StageDuration, err = meter.Float64Histogram(
		"stage_duration_seconds",
		metric.WithDescription("Per-stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 15, 60, 300, 1800, 3600, 14400),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageOutcomes, err = meter.Int64Counter(
		"fold_stage_outcomes_total",
		metric.WithDescription("Stage completions by stage and outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Safety metrics
	m.WatchdogKills, err = meter.Int64Counter(
		"watchdog_kills_total",
		metric.WithDescription("Fold processes killed by the memory watchdog"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AdmissionDenials, err = meter.Int64Counter(
		"admission_denials_total",
		metric.WithDescription("Runs refused at admission because memory headroom was too low"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Notification metrics
	m.NotifyDelivered, err = meter.Int64Counter(
		"notify_delivered_total",
		metric.WithDescription("Run notifications successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyFailed, err = meter.Int64Counter(
		"notify_failed_total",
		metric.WithDescription("Run notifications failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDropped, err = meter.Int64Counter(
		"notify_dropped_total",
		metric.WithDescription("Run notifications dropped because the queue was full"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Status API metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("Status API request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total status API requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordRun records a completed run with its final status. All Record
// methods are no-ops on a nil receiver so callers can run unmetered.
func (m *Metrics) RecordRun(ctx context.Context, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(statusAttr(status))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, durationSeconds, attrs)
}

// RecordStage records one stage finishing with the given outcome.
func (m *Metrics) RecordStage(ctx context.Context, stage, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageOutcomes.Add(ctx, 1, metric.WithAttributes(stageAttr(stage), outcomeAttr(outcome)))
	m.StageDuration.Record(ctx, durationSeconds, metric.WithAttributes(stageAttr(stage)))
}

// RecordWatchdogKill records the watchdog terminating a fold process.
func (m *Metrics) RecordWatchdogKill(ctx context.Context) {
	if m == nil {
		return
	}
	m.WatchdogKills.Add(ctx, 1)
}

// RecordAdmissionDenied records a run refused before launch.
func (m *Metrics) RecordAdmissionDenied(ctx context.Context) {
	if m == nil {
		return
	}
	m.AdmissionDenials.Add(ctx, 1)
}

// RecordNotifyDelivered records a successful notification delivery.
func (m *Metrics) RecordNotifyDelivered(ctx context.Context) {
	if m == nil {
		return
	}
	m.NotifyDelivered.Add(ctx, 1)
}

// RecordNotifyFailed records a notification that exhausted its retries.
func (m *Metrics) RecordNotifyFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.NotifyFailed.Add(ctx, 1)
}

// RecordNotifyDropped records a notification discarded at enqueue time.
func (m *Metrics) RecordNotifyDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.NotifyDropped.Add(ctx, 1)
}

// RecordHTTPRequest records one status API request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(path), codeAttr(statusCode))
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}

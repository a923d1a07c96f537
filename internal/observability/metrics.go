// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"

	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a
// Prometheus exporter. It returns the HTTP handler for the /metrics endpoint
// and a shutdown function to call on application exit.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := promexporter.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// PipelineMetrics carries the job pipeline instruments. It satisfies the
// orchestrator's Metrics seam.
type PipelineMetrics struct {
	submitted otelmetric.Int64Counter
	finished  otelmetric.Int64Counter
	duration  otelmetric.Float64Histogram
}

// NewPipelineMetrics registers the pipeline instruments on the global meter
// provider.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter("deskforge/pipeline")

	submitted, err := meter.Int64Counter("deskforge_jobs_submitted_total",
		otelmetric.WithDescription("Jobs accepted for processing"))
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter("deskforge_jobs_finished_total",
		otelmetric.WithDescription("Jobs that reached a terminal state"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("deskforge_job_duration_seconds",
		otelmetric.WithDescription("Wall-clock time from claim to terminal state"))
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{submitted: submitted, finished: finished, duration: duration}, nil
}

func (m *PipelineMetrics) JobSubmitted(kind string) {
	m.submitted.Add(context.Background(), 1,
		otelmetric.WithAttributes(attribute.String("kind", kind)))
}

func (m *PipelineMetrics) JobFinished(kind, status string, elapsed time.Duration) {
	attrs := otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.finished.Add(context.Background(), 1, attrs)
	m.duration.Record(context.Background(), elapsed.Seconds(), attrs)
}

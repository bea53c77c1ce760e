// Package metrics records scheduler and API activity as OpenTelemetry counters.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "tinybatch"

// Metrics implements task.Metrics and the API request instruments.
type Metrics struct {
	tasksStarted       metric.Int64Counter
	tasksCompleted     metric.Int64Counter
	credentialsRevoked metric.Int64Counter

	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
}

func New(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(Metrics)
	var err error

	if m.tasksStarted, err = meter.Int64Counter(
		"tasks_started_total",
		metric.WithDescription("Total number of task attempts dispatched"),
	); err != nil {
		return nil, err
	}

	if m.tasksCompleted, err = meter.Int64Counter(
		"tasks_completed_total",
		metric.WithDescription("Total number of task attempts that reached a terminal status"),
	); err != nil {
		return nil, err
	}

	if m.credentialsRevoked, err = meter.Int64Counter(
		"credentials_revoked_total",
		metric.WithDescription("Total number of api keys removed for exhausted quota"),
	); err != nil {
		return nil, err
	}

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) TaskStarted(ctx context.Context) {
	m.tasksStarted.Add(ctx, 1)
}

func (m *Metrics) TaskCompleted(ctx context.Context, status string) {
	m.tasksCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) CredentialRevoked(ctx context.Context) {
	m.credentialsRevoked.Add(ctx, 1)
}

func (m *Metrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *Metrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

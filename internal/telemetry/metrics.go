package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the direct query instruments. A nil *Metrics records nothing.
type Metrics struct {
	queries          metric.Int64Counter
	queryDuration    metric.Float64Histogram
	resourceRequests metric.Int64Counter
	clientBuilds     metric.Int64Counter
}

// NewMetrics creates the instruments on meter, or on the global meter when nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	queries, err := meter.Int64Counter(
		"directquery.queries",
		metric.WithDescription("Number of direct queries executed"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"directquery.query.duration",
		metric.WithDescription("Duration of direct queries including client construction"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	resourceRequests, err := meter.Int64Counter(
		"directquery.resource.requests",
		metric.WithDescription("Number of data source resource lookups"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	clientBuilds, err := meter.Int64Counter(
		"directquery.client.builds",
		metric.WithDescription("Number of protocol clients constructed"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		queries:          queries,
		queryDuration:    queryDuration,
		resourceRequests: resourceRequests,
		clientBuilds:     clientBuilds,
	}, nil
}

// RecordQuery records one executed query with its outcome.
func (m *Metrics) RecordQuery(ctx context.Context, dataSource, connector, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("datasource.name", dataSource),
		attribute.String("datasource.connector", connector),
		attribute.String("query.mode", mode),
		attribute.String("status", status),
	)
	m.queries.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordResourceRequest records one resource lookup with its outcome.
func (m *Metrics) RecordResourceRequest(ctx context.Context, dataSource, resourceType, status string) {
	if m == nil {
		return
	}
	m.resourceRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("datasource.name", dataSource),
		attribute.String("resource.type", resourceType),
		attribute.String("status", status),
	))
}

// RecordClientBuild records a client construction attempt.
func (m *Metrics) RecordClientBuild(ctx context.Context, connector, status string) {
	if m == nil {
		return
	}
	m.clientBuilds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("datasource.connector", connector),
		attribute.String("status", status),
	))
}

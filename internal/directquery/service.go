// Package directquery executes passthrough queries and resource lookups
// against external data sources by name.
package directquery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/directquery/internal/handler"
	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/pkg/datasource"
)

// ClientFactory builds a protocol client for a data source name.
type ClientFactory interface {
	CreateClient(ctx context.Context, name string) (datasource.Client, error)
}

// QueryResponse is the result of one direct query. Result is either backend
// data or an {"error": ...} payload.
type QueryResponse struct {
	QueryID   string
	Result    json.RawMessage
	SessionID string
}

// unresolvedDataSource labels metrics for names the catalog did not resolve,
// keeping series cardinality bound by the catalog.
const unresolvedDataSource = "unknown"

// ResourcesResponse wraps a resource listing.
type ResourcesResponse struct {
	Data any
}

// Service ties the client factory to the handler registry.
type Service struct {
	clients  ClientFactory
	handlers *handler.Registry
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	logger   *telemetry.Logger
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithTracer sets the tracer. The global tracer is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithMetrics records query and resource metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a Service.
func NewService(clients ClientFactory, handlers *handler.Registry, opts ...Option) *Service {
	s := &Service{
		clients:  clients,
		handlers: handlers,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/yairfalse/directquery/internal/directquery")
	}
	s.logger = telemetry.OrNop(s.logger).Component("directquery")
	return s
}

// ExecuteDirectQuery runs req against its data source. The query ID is
// generated per call and is informational only. The session ID is passed
// through untouched.
func (s *Service) ExecuteDirectQuery(ctx context.Context, req handler.QueryRequest) (QueryResponse, error) {
	start := time.Now()
	queryID := s.newID()

	ctx, span := s.tracer.Start(ctx, "directquery.execute",
		trace.WithAttributes(
			attribute.String("directquery.query_id", queryID),
			attribute.String("directquery.datasource", req.DataSource),
			attribute.String("directquery.mode", string(req.Mode)),
		))
	defer span.End()

	resp := QueryResponse{QueryID: queryID, SessionID: req.SessionID}
	connector := ""
	dsLabel := unresolvedDataSource

	result, err := func() (json.RawMessage, error) {
		if err := ValidateQueryRequest(req); err != nil {
			return nil, err
		}

		client, err := s.clients.CreateClient(ctx, req.DataSource)
		if err != nil {
			return nil, err
		}
		connector = client.ConnectorType().String()
		dsLabel = client.DataSource()

		h, ok := s.handlers.Resolve(client)
		if !ok {
			return nil, datasource.UnsupportedType("no query handler for connector type %s", client.ConnectorType())
		}
		return h.ExecuteQuery(ctx, client, req)
	}()

	status := queryStatus(result, err)
	s.metrics.RecordQuery(ctx, dsLabel, connector, string(req.Mode), status, time.Since(start))
	span.SetAttributes(attribute.String("directquery.status", status))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, datasource.Message(err))
		s.logger.WithContext(ctx).Error().Err(err).
			Str("query_id", queryID).
			Str("datasource", req.DataSource).
			Msg("direct query failed")
		return resp, err
	}

	s.logger.WithContext(ctx).Info().
		Str("query_id", queryID).
		Str("datasource", req.DataSource).
		Str("connector", connector).
		Str("status", status).
		Dur("duration", time.Since(start)).
		Msg("direct query executed")

	resp.Result = result
	return resp, nil
}

// GetDirectQueryResources fetches a resource listing from req's data source.
func (s *Service) GetDirectQueryResources(ctx context.Context, req handler.ResourceRequest) (ResourcesResponse, error) {
	ctx, span := s.tracer.Start(ctx, "directquery.resources",
		trace.WithAttributes(
			attribute.String("directquery.datasource", req.DataSource),
			attribute.String("directquery.resource", string(req.Type)),
		))
	defer span.End()

	dsLabel := unresolvedDataSource
	data, err := func() (any, error) {
		client, err := s.clients.CreateClient(ctx, req.DataSource)
		if err != nil {
			return nil, err
		}
		dsLabel = client.DataSource()

		h, ok := s.handlers.Resolve(client)
		if !ok {
			return nil, datasource.UnsupportedType("no query handler for connector type %s", client.ConnectorType())
		}
		return h.GetResources(ctx, client, req)
	}()

	status := "success"
	if err != nil {
		status = errorStatus(err)
	}
	s.metrics.RecordResourceRequest(ctx, dsLabel, string(req.Type), status)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, datasource.Message(err))
		s.logger.WithContext(ctx).Error().Err(err).
			Str("datasource", req.DataSource).
			Str("resource", string(req.Type)).
			Msg("resource request failed")
		return ResourcesResponse{}, err
	}
	return ResourcesResponse{Data: data}, nil
}

func queryStatus(result json.RawMessage, err error) string {
	if err != nil {
		return errorStatus(err)
	}
	var payload struct {
		Error *string `json:"error"`
	}
	if json.Unmarshal(result, &payload) == nil && payload.Error != nil {
		return "invalid"
	}
	return "success"
}

func errorStatus(err error) string {
	switch {
	case errors.Is(err, datasource.ErrNotFound):
		return "not_found"
	case errors.Is(err, datasource.ErrValidation), errors.Is(err, datasource.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, datasource.ErrConfiguration), errors.Is(err, datasource.ErrUnsupportedType):
		return "misconfigured"
	case errors.Is(err, datasource.ErrProtocol):
		return "backend_error"
	default:
		return "error"
	}
}

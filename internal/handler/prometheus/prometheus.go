// Package prometheus serves direct PromQL queries and resource listings.
package prometheus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/yairfalse/directquery/internal/handler"
	"github.com/yairfalse/directquery/internal/promapi"
	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/pkg/datasource"
)

// Validation messages returned as {"error": ...} payloads.
const (
	msgRangeTimesRequired = "Start and end times are required for Prometheus queries"
	msgTimeRequired       = "Time is required for instant Prometheus queries"
	msgModeRequired       = "Query type is required for Prometheus queries"
	msgInvalidTimeFormat  = "Invalid time format: %s"
)

// API is the protocol surface the handler needs. *promapi.Client implements it.
type API interface {
	datasource.Client
	Query(ctx context.Context, query string, ts int64, limit, timeoutMillis int) (json.RawMessage, error)
	QueryRange(ctx context.Context, query string, start, end int64, step string, limit, timeoutMillis int) (json.RawMessage, error)
	Labels(ctx context.Context, params map[string]string) ([]string, error)
	LabelValues(ctx context.Context, name string, params map[string]string) ([]string, error)
	Metadata(ctx context.Context, params map[string]string) (map[string][]promv1.Metadata, error)
	Series(ctx context.Context, params map[string]string) ([]model.LabelSet, error)
	Alertmanager() *promapi.AlertmanagerClient
}

var _ API = (*promapi.Client)(nil)

// Handler serves PROMETHEUS data sources.
type Handler struct {
	logger *telemetry.Logger
}

// New returns a Prometheus handler.
func New(logger *telemetry.Logger) *Handler {
	return &Handler{logger: telemetry.OrNop(logger).Component("prometheus_handler")}
}

func (h *Handler) ConnectorType() datasource.ConnectorType {
	return datasource.Prometheus
}

// CanHandle dispatches on the connector tag. The client must also expose the
// Prometheus API.
func (h *Handler) CanHandle(client datasource.Client) bool {
	if client.ConnectorType() != datasource.Prometheus {
		return false
	}
	_, ok := client.(API)
	return ok
}

// ExecuteQuery validates mode-specific fields before any network call.
func (h *Handler) ExecuteQuery(ctx context.Context, client datasource.Client, req handler.QueryRequest) (json.RawMessage, error) {
	api, err := h.api(client)
	if err != nil {
		return nil, err
	}

	switch req.Mode {
	case handler.ModeRange:
		return h.queryRange(ctx, api, req)
	case handler.ModeInstant:
		return h.queryInstant(ctx, api, req)
	default:
		return handler.ErrorPayload(msgModeRequired), nil
	}
}

func (h *Handler) queryRange(ctx context.Context, api API, req handler.QueryRequest) (json.RawMessage, error) {
	if req.Start == "" || req.End == "" {
		return handler.ErrorPayload(msgRangeTimesRequired), nil
	}
	start, err := parseTime(req.Start)
	if err != nil {
		return handler.ErrorPayload(err.Error()), nil
	}
	end, err := parseTime(req.End)
	if err != nil {
		return handler.ErrorPayload(err.Error()), nil
	}

	h.logger.WithContext(ctx).Debug().
		Str("datasource", req.DataSource).
		Int64("start", start).
		Int64("end", end).
		Str("step", req.Step).
		Msg("executing range query")

	data, err := api.QueryRange(ctx, req.Query, start, end, req.Step, req.MaxResults, req.TimeoutMillis)
	if err != nil {
		return nil, fmt.Errorf("range query on data source %s: %w", req.DataSource, err)
	}
	return data, nil
}

func (h *Handler) queryInstant(ctx context.Context, api API, req handler.QueryRequest) (json.RawMessage, error) {
	if req.Time == "" {
		return handler.ErrorPayload(msgTimeRequired), nil
	}
	ts, err := parseTime(req.Time)
	if err != nil {
		return handler.ErrorPayload(err.Error()), nil
	}

	h.logger.WithContext(ctx).Debug().
		Str("datasource", req.DataSource).
		Int64("time", ts).
		Msg("executing instant query")

	data, err := api.Query(ctx, req.Query, ts, req.MaxResults, req.TimeoutMillis)
	if err != nil {
		return nil, fmt.Errorf("instant query on data source %s: %w", req.DataSource, err)
	}
	return data, nil
}

// GetResources lists labels, label values, metadata, series or Alertmanager state.
func (h *Handler) GetResources(ctx context.Context, client datasource.Client, req handler.ResourceRequest) (any, error) {
	api, err := h.api(client)
	if err != nil {
		return nil, err
	}

	h.logger.WithContext(ctx).Debug().
		Str("datasource", req.DataSource).
		Str("resource", string(req.Type)).
		Msg("fetching resources")

	result, err := h.fetch(ctx, api, req)
	if err != nil {
		if errors.Is(err, datasource.ErrProtocol) {
			return nil, fmt.Errorf("fetch %s for data source %s: %w", req.Type, req.DataSource, err)
		}
		return nil, err
	}
	return result, nil
}

func (h *Handler) fetch(ctx context.Context, api API, req handler.ResourceRequest) (any, error) {
	switch req.Type {
	case handler.ResourceLabels:
		return api.Labels(ctx, req.QueryParams)
	case handler.ResourceLabelValues:
		if req.Name == "" {
			return nil, datasource.InvalidArgument("Label name is required for label_values resources")
		}
		return api.LabelValues(ctx, req.Name, req.QueryParams)
	case handler.ResourceMetadata:
		return api.Metadata(ctx, req.QueryParams)
	case handler.ResourceSeries:
		series, err := api.Series(ctx, req.QueryParams)
		if err != nil {
			return nil, err
		}
		return seriesMaps(series), nil
	case handler.ResourceAlertmanagerAlerts,
		handler.ResourceAlertmanagerAlertGroups,
		handler.ResourceAlertmanagerReceivers,
		handler.ResourceAlertmanagerSilences:
		return h.fetchAlertmanager(ctx, api, req)
	default:
		return nil, datasource.InvalidArgument("Invalid resource type: %s", req.Type)
	}
}

func (h *Handler) fetchAlertmanager(ctx context.Context, api API, req handler.ResourceRequest) (any, error) {
	am := api.Alertmanager()
	if am == nil {
		return nil, datasource.Configuration("Alertmanager is not configured for data source %s", api.DataSource())
	}

	switch req.Type {
	case handler.ResourceAlertmanagerAlerts:
		return am.Alerts(ctx, req.QueryParams)
	case handler.ResourceAlertmanagerAlertGroups:
		return am.AlertGroups(ctx, req.QueryParams)
	case handler.ResourceAlertmanagerReceivers:
		return am.Receivers(ctx)
	default:
		return am.Silences(ctx, req.QueryParams)
	}
}

func (h *Handler) api(client datasource.Client) (API, error) {
	api, ok := client.(API)
	if !ok {
		return nil, datasource.UnsupportedType("client for connector type %s is not a Prometheus client", client.ConnectorType())
	}
	return api, nil
}

func parseTime(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) {
			return 0, fmt.Errorf(msgInvalidTimeFormat, fmt.Sprintf("%q (%v)", ne.Num, ne.Err))
		}
		return 0, fmt.Errorf(msgInvalidTimeFormat, err)
	}
	return v, nil
}

func seriesMaps(series []model.LabelSet) []map[string]string {
	out := make([]map[string]string, 0, len(series))
	for _, ls := range series {
		m := make(map[string]string, len(ls))
		for k, v := range ls {
			m[string(k)] = string(v)
		}
		out = append(out, m)
	}
	return out
}

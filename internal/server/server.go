// Package server exposes direct queries and resource listings over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yairfalse/directquery/internal/directquery"
	"github.com/yairfalse/directquery/internal/handler"
	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/pkg/datasource"
)

const (
	queryPath     = "/_plugins/_directquery/_query/"
	resourcesPath = "/_plugins/_directquery/_resources/"

	maxBodyBytes = 1 << 20
)

// Executor runs direct queries. *directquery.Service implements it.
type Executor interface {
	ExecuteDirectQuery(ctx context.Context, req handler.QueryRequest) (directquery.QueryResponse, error)
	GetDirectQueryResources(ctx context.Context, req handler.ResourceRequest) (directquery.ResourcesResponse, error)
}

// Server routes direct query HTTP requests.
type Server struct {
	exec     Executor
	enabled  bool
	gatherer prometheus.Gatherer
	logger   *telemetry.Logger
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithEnabled toggles data source access. Disabled servers answer 400.
func WithEnabled(enabled bool) Option {
	return func(s *Server) { s.enabled = enabled }
}

// WithGatherer serves g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New registers every route.
func New(exec Executor, opts ...Option) *Server {
	s := &Server{exec: exec, enabled: true, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = telemetry.OrNop(s.logger).Component("http")

	s.mux.HandleFunc("POST "+queryPath+"{dataSource}", s.guarded(s.handleQuery))

	resources := map[string]handler.ResourceType{
		"api/v1/labels":              handler.ResourceLabels,
		"api/v1/label/{name}/values": handler.ResourceLabelValues,
		"api/v1/metadata":            handler.ResourceMetadata,
		"api/v1/series":              handler.ResourceSeries,

		"alertmanager/api/v2/alerts":        handler.ResourceAlertmanagerAlerts,
		"alertmanager/api/v2/alerts/groups": handler.ResourceAlertmanagerAlertGroups,
		"alertmanager/api/v2/receivers":     handler.ResourceAlertmanagerReceivers,
		"alertmanager/api/v2/silences":      handler.ResourceAlertmanagerSilences,
	}
	for suffix, rt := range resources {
		s.mux.HandleFunc("GET "+resourcesPath+"{dataSource}/"+suffix, s.guarded(s.resourceHandler(rt)))
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.enabled {
			writeError(w, http.StatusBadRequest, "datasources_disabled", "datasources.enabled setting is false")
			return
		}
		next(w, r)
	}
}

// queryOptions carries mode-specific fields.
type queryOptions struct {
	QueryType string `json:"queryType,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Time      string `json:"time,omitempty"`
	Step      string `json:"step,omitempty"`
}

// QueryBody is the POST body of a direct query.
type QueryBody struct {
	DataSource    string       `json:"datasource,omitempty"`
	Query         string       `json:"query"`
	Language      string       `json:"language"`
	QueryType     string       `json:"queryType,omitempty"`
	Options       queryOptions `json:"options"`
	SessionID     string       `json:"sessionId,omitempty"`
	MaxResults    int          `json:"maxResults,omitempty"`
	TimeoutMillis int          `json:"timeoutMillis,omitempty"`
}

// QueryResult is the response of a direct query. Result holds the backend
// JSON as a string.
type QueryResult struct {
	QueryID   string `json:"queryId"`
	Result    string `json:"result"`
	SessionID string `json:"sessionId"`
}

func (b QueryBody) request() handler.QueryRequest {
	queryType := b.Options.QueryType
	if queryType == "" {
		queryType = b.QueryType
	}
	return handler.QueryRequest{
		DataSource:    b.DataSource,
		Query:         b.Query,
		Language:      b.Language,
		Mode:          handler.ParseQueryMode(queryType),
		Start:         b.Options.Start,
		End:           b.Options.End,
		Step:          b.Options.Step,
		Time:          b.Options.Time,
		MaxResults:    b.MaxResults,
		TimeoutMillis: b.TimeoutMillis,
		SessionID:     b.SessionID,
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body QueryBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error",
			fmt.Sprintf("Error while parsing the direct query request: %v", err))
		return
	}
	if body.DataSource == "" {
		body.DataSource = r.PathValue("dataSource")
	}

	resp, err := s.exec.ExecuteDirectQuery(r.Context(), body.request())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryResult{
		QueryID:   resp.QueryID,
		Result:    string(resp.Result),
		SessionID: resp.SessionID,
	})
}

func (s *Server) resourceHandler(rt handler.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := make(map[string]string)
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}

		resp, err := s.exec.GetDirectQueryResources(r.Context(), handler.ResourceRequest{
			DataSource:  r.PathValue("dataSource"),
			Type:        rt,
			Name:        r.PathValue("name"),
			QueryParams: params,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"data":   resp.Data,
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	level := zerolog.WarnLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.ErrorLevel
	}
	s.logger.WithContext(r.Context()).WithLevel(level).Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")

	writeError(w, status, kind, datasource.Message(err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, datasource.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, datasource.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, datasource.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, datasource.ErrConfiguration):
		return http.StatusBadRequest, "configuration_error"
	case errors.Is(err, datasource.ErrUnsupportedType):
		return http.StatusBadRequest, "unsupported_type"
	case errors.Is(err, datasource.ErrProtocol):
		return http.StatusBadGateway, "protocol_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type errorBody struct {
	Error  errorDetail `json:"error"`
	Status int         `json:"status"`
}

type errorDetail struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func writeError(w http.ResponseWriter, status int, kind, reason string) {
	writeJSON(w, status, errorBody{
		Error:  errorDetail{Type: kind, Reason: reason},
		Status: status,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

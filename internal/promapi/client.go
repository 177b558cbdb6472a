// Package promapi is a client for the Prometheus HTTP API (and the
// Alertmanager v2 API next to it) that returns query data untouched and
// classifies every failure as a datasource protocol error.
package promapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/pkg/datasource"
)

const statusSuccess = "success"

// envelope wraps every Prometheus API response.
type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorType string          `json:"errorType,omitempty"`
	Error     string          `json:"error,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// Client talks to one Prometheus server on behalf of one data source.
type Client struct {
	dataSource   string
	api          backend
	alertmanager *AlertmanagerClient
}

// Option configures a Client.
type Option func(*options)

type options struct {
	logger       *telemetry.Logger
	alertmanager *AlertmanagerClient
}

// WithLogger sets the client logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAlertmanager attaches the Alertmanager paired with this Prometheus.
func WithAlertmanager(am *AlertmanagerClient) Option {
	return func(o *options) { o.alertmanager = am }
}

// NewClient returns a client for the Prometheus at baseURI. The HTTP client
// carries timeouts and authentication.
func NewClient(dataSource, baseURI string, httpClient *http.Client, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	b, err := newBackend("Prometheus", baseURI, httpClient, o.logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		dataSource:   dataSource,
		api:          b,
		alertmanager: o.alertmanager,
	}, nil
}

// DataSource returns the data source name the client was built for.
func (c *Client) DataSource() string {
	return c.dataSource
}

// ConnectorType identifies the protocol for handler dispatch.
func (c *Client) ConnectorType() datasource.ConnectorType {
	return datasource.Prometheus
}

// Alertmanager returns the paired Alertmanager client, or nil.
func (c *Client) Alertmanager() *AlertmanagerClient {
	return c.alertmanager
}

// Query runs an instant query evaluated at ts (unix seconds).
func (c *Client) Query(ctx context.Context, query string, ts int64, limit, timeoutMillis int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("time", strconv.FormatInt(ts, 10))
	setLimits(params, limit, timeoutMillis)
	return c.call(ctx, "query", nil, params)
}

// QueryRange runs a range query between start and end (unix seconds).
func (c *Client) QueryRange(ctx context.Context, query string, start, end int64, step string, limit, timeoutMillis int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start, 10))
	params.Set("end", strconv.FormatInt(end, 10))
	if step != "" {
		params.Set("step", step)
	}
	setLimits(params, limit, timeoutMillis)
	return c.call(ctx, "query_range", nil, params)
}

// Labels lists label names. The metric name label is left out.
func (c *Client) Labels(ctx context.Context, params map[string]string) ([]string, error) {
	data, err := c.call(ctx, "labels", nil, toValues(params))
	if err != nil {
		return nil, err
	}

	var names []string
	if err := c.decode(data, &names); err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(names))
	for _, name := range names {
		if name == model.MetricNameLabel {
			continue
		}
		labels = append(labels, name)
	}
	return labels, nil
}

// LabelValues lists the values of one label.
func (c *Client) LabelValues(ctx context.Context, name string, params map[string]string) ([]string, error) {
	data, err := c.call(ctx, "label/:name/values", map[string]string{"name": name}, toValues(params))
	if err != nil {
		return nil, err
	}

	values := []string{}
	if err := c.decode(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// Metadata returns metric metadata keyed by metric name.
func (c *Client) Metadata(ctx context.Context, params map[string]string) (map[string][]promv1.Metadata, error) {
	data, err := c.call(ctx, "metadata", nil, toValues(params))
	if err != nil {
		return nil, err
	}

	metadata := map[string][]promv1.Metadata{}
	if err := c.decode(data, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// Series returns the label sets of series matching the match[] selectors in params.
func (c *Client) Series(ctx context.Context, params map[string]string) ([]model.LabelSet, error) {
	data, err := c.call(ctx, "series", nil, toValues(params))
	if err != nil {
		return nil, err
	}

	series := []model.LabelSet{}
	if err := c.decode(data, &series); err != nil {
		return nil, err
	}
	return series, nil
}

// QueryExemplars returns exemplars for query between start and end.
func (c *Client) QueryExemplars(ctx context.Context, query string, start, end int64) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start, 10))
	params.Set("end", strconv.FormatInt(end, 10))
	return c.call(ctx, "query_exemplars", nil, params)
}

// call performs the request and unwraps the envelope.
func (c *Client) call(ctx context.Context, endpoint string, args map[string]string, params url.Values) (json.RawMessage, error) {
	resp, err := c.api.get(ctx, "/api/v1/"+endpoint, args, params)
	if err != nil {
		return nil, err
	}

	if resp.empty() && !resp.ok() {
		return nil, c.api.unsuccessful(ctx, resp)
	}

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		c.api.logger.WithContext(ctx).Error().Err(err).Str("endpoint", endpoint).Msg("failed to parse response")
		return nil, c.api.unexpectedBody()
	}

	if !resp.ok() {
		return nil, c.api.unsuccessful(ctx, resp)
	}

	if env.Status != statusSuccess {
		c.api.logger.WithContext(ctx).Error().
			Str("endpoint", endpoint).
			Str("error_type", env.ErrorType).
			Str("error", env.Error).
			Msg("backend returned error status")
		return nil, datasource.Protocol(env.Error)
	}

	if len(env.Warnings) > 0 {
		c.api.logger.WithContext(ctx).Warn().Strs("warnings", env.Warnings).Str("endpoint", endpoint).Msg("backend returned warnings")
	}

	return env.Data, nil
}

func (c *Client) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return c.api.unexpectedBody()
	}
	return nil
}

func setLimits(params url.Values, limit, timeoutMillis int) {
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if timeoutMillis > 0 {
		params.Set("timeout", strconv.Itoa(timeoutMillis)+"ms")
	}
}

func toValues(params map[string]string) url.Values {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values
}

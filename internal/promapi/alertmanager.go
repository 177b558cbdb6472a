package promapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/yairfalse/directquery/internal/telemetry"
)

// AlertmanagerClient reads the Alertmanager v2 API. Responses carry no
// envelope and are returned as raw JSON.
type AlertmanagerClient struct {
	api backend
}

// NewAlertmanagerClient returns a client for the Alertmanager at baseURI.
func NewAlertmanagerClient(baseURI string, httpClient *http.Client, logger *telemetry.Logger) (*AlertmanagerClient, error) {
	b, err := newBackend("Alertmanager", baseURI, httpClient, logger)
	if err != nil {
		return nil, err
	}
	return &AlertmanagerClient{api: b}, nil
}

// Alerts lists alerts. params carries the v2 filters (filter, active, silenced, ...).
func (c *AlertmanagerClient) Alerts(ctx context.Context, params map[string]string) (json.RawMessage, error) {
	return c.call(ctx, "alerts", params)
}

// AlertGroups lists alerts grouped by route.
func (c *AlertmanagerClient) AlertGroups(ctx context.Context, params map[string]string) (json.RawMessage, error) {
	return c.call(ctx, "alerts/groups", params)
}

// Receivers lists configured receivers.
func (c *AlertmanagerClient) Receivers(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "receivers", nil)
}

// Silences lists silences.
func (c *AlertmanagerClient) Silences(ctx context.Context, params map[string]string) (json.RawMessage, error) {
	return c.call(ctx, "silences", params)
}

func (c *AlertmanagerClient) call(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	var values url.Values
	if len(params) > 0 {
		values = toValues(params)
	}

	resp, err := c.api.get(ctx, "/api/v2/"+endpoint, nil, values)
	if err != nil {
		return nil, err
	}

	if resp.empty() && !resp.ok() {
		return nil, c.api.unsuccessful(ctx, resp)
	}
	if !json.Valid(resp.body) {
		return nil, c.api.unexpectedBody()
	}
	if !resp.ok() {
		return nil, c.api.unsuccessful(ctx, resp)
	}
	return json.RawMessage(resp.body), nil
}

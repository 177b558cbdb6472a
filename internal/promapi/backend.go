package promapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/api"

	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/pkg/datasource"
)

const noResponseBody = "No response body"

// backend issues GET requests against one HTTP API root and classifies
// transport and status failures the same way for every caller.
type backend struct {
	name   string
	api    api.Client
	logger *telemetry.Logger
}

func newBackend(name, baseURI string, httpClient *http.Client, logger *telemetry.Logger) (backend, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	client, err := api.NewClient(api.Config{
		Address: strings.TrimRight(baseURI, "/"),
		Client:  httpClient,
	})
	if err != nil {
		return backend{}, datasource.ConfigurationWrap(err, "Invalid URI %s: %v", baseURI, err)
	}
	return backend{
		name:   name,
		api:    client,
		logger: telemetry.OrNop(logger),
	}, nil
}

// response is a fully read backend reply.
type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r response) empty() bool {
	return len(bytes.TrimSpace(r.body)) == 0
}

// get sends GET endpoint. Endpoint segments written as :name are filled
// from args.
func (b backend) get(ctx context.Context, endpoint string, args map[string]string, params url.Values) (response, error) {
	u := b.api.URL(endpoint, args)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return response{}, datasource.ProtocolWrap(err, "Request to %s failed: %v", b.name, err)
	}
	req.Header.Set("Accept", "application/json")

	b.logger.WithContext(ctx).Debug().
		Str("backend", b.name).
		Str("url", req.URL.Redacted()).
		Msg("sending request")

	resp, body, err := b.api.Do(ctx, req)
	if err != nil {
		b.logger.WithContext(ctx).Error().Err(err).Str("backend", b.name).Msg("request failed")
		return response{}, datasource.ProtocolWrap(err, "Request to %s failed: %v", b.name, err)
	}

	b.logger.WithContext(ctx).Debug().
		Str("backend", b.name).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("received response")

	return response{status: resp.StatusCode, body: body}, nil
}

func (b backend) unexpectedBody() error {
	return datasource.Protocol(fmt.Sprintf(
		"%s returned unexpected body, please verify your %s server setup.",
		b.name, strings.ToLower(b.name)))
}

func (b backend) unsuccessful(ctx context.Context, r response) error {
	details := noResponseBody
	if !r.empty() {
		details = string(r.body)
	}
	b.logger.WithContext(ctx).Error().
		Str("backend", b.name).
		Int("status", r.status).
		Str("body", details).
		Msg("request unsuccessful")
	return datasource.Protocol(fmt.Sprintf(
		"Request to %s is Unsuccessful with code: %d. Error details: %s",
		b.name, r.status, details))
}

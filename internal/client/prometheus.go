package client

import (
	"context"
	"net/url"

	"github.com/yairfalse/directquery/internal/promapi"
	"github.com/yairfalse/directquery/internal/transport"
	"github.com/yairfalse/directquery/pkg/datasource"
)

// Property keys of PROMETHEUS data sources.
const (
	PropPrometheusURI   = "prometheus.uri"
	PropAlertmanagerURI = "alertmanager.uri"

	prefixPrometheus   = "prometheus"
	prefixAlertmanager = "alertmanager"
)

// NewPrometheusClient builds a promapi client from prometheus.* properties
// and, when alertmanager.uri is set, its paired Alertmanager client.
func NewPrometheusClient(ctx context.Context, md datasource.Metadata, deps Deps) (datasource.Client, error) {
	raw, ok := md.Property(PropPrometheusURI)
	if !ok {
		return nil, datasource.Configuration("Host is required for Prometheus data source")
	}
	base, err := parseBaseURI(raw)
	if err != nil {
		return nil, err
	}

	httpClient, err := transport.Build(ctx, md.Properties, transport.Options{
		Prefix: prefixPrometheus,
		Pool:   deps.Pool,
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	opts := []promapi.Option{promapi.WithLogger(deps.Logger)}

	if rawAM, ok := md.Property(PropAlertmanagerURI); ok {
		amBase, err := parseBaseURI(rawAM)
		if err != nil {
			return nil, err
		}
		amHTTP, err := transport.Build(ctx, md.Properties, transport.Options{
			Prefix: prefixAlertmanager,
			Pool:   deps.Pool,
			Logger: deps.Logger,
		})
		if err != nil {
			return nil, err
		}
		am, err := promapi.NewAlertmanagerClient(amBase.String(), amHTTP, deps.Logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, promapi.WithAlertmanager(am))
	}

	return promapi.NewClient(md.Name, base.String(), httpClient, opts...)
}

func parseBaseURI(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, datasource.ConfigurationWrap(err, "Invalid URI %s: %v", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, datasource.Configuration("Invalid URI %s: must be absolute", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, datasource.Configuration("Invalid URI %s: scheme %s is not supported", raw, u.Scheme)
	}
	return u, nil
}

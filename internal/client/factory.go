// Package client turns a data source name into a ready protocol client.
package client

import (
	"context"
	"errors"

	"github.com/yairfalse/directquery/internal/guard"
	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/internal/transport"
	"github.com/yairfalse/directquery/pkg/datasource"
)

// Deps are the capabilities a constructor may use.
type Deps struct {
	// Pool is shared by every client the factory builds.
	Pool   *transport.Pool
	Logger *telemetry.Logger
}

// Constructor builds a protocol client for one data source.
type Constructor func(ctx context.Context, md datasource.Metadata, deps Deps) (datasource.Client, error)

// Factory creates clients from data source metadata. Every call builds a
// fresh client; the connection pool underneath is the only shared state.
type Factory struct {
	service      datasource.Service
	constructors map[datasource.ConnectorType]Constructor
	guard        *guard.Guard
	deps         Deps
	metrics      *telemetry.Metrics
	logger       *telemetry.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithGuard sets the URI guard applied to every transport.
func WithGuard(g *guard.Guard) Option {
	return func(f *Factory) { f.guard = g }
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithMetrics records client builds.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// WithConstructor registers or replaces the constructor for a connector type.
func WithConstructor(ct datasource.ConnectorType, c Constructor) Option {
	return func(f *Factory) { f.constructors[ct] = c }
}

// NewFactory returns a factory resolving names through service. Outbound
// connections go through network.
func NewFactory(service datasource.Service, network transport.Network, opts ...Option) *Factory {
	f := &Factory{
		service: service,
		constructors: map[datasource.ConnectorType]Constructor{
			datasource.Prometheus: NewPrometheusClient,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = telemetry.OrNop(f.logger).Component("client_factory")
	f.deps = Deps{
		Pool:   transport.NewPool(network, f.guard),
		Logger: f.logger,
	}
	return f
}

// Close releases idle pooled connections.
func (f *Factory) Close() {
	f.deps.Pool.CloseIdleConnections()
}

// CreateClient resolves name and builds its client.
func (f *Factory) CreateClient(ctx context.Context, name string) (datasource.Client, error) {
	md, err := f.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	ctor, ok := f.constructors[md.Connector]
	if !ok {
		f.metrics.RecordClientBuild(ctx, md.Connector.String(), "unsupported")
		return nil, datasource.UnsupportedType("Unsupported data source type: %s", md.Connector)
	}

	c, err := ctor(ctx, md, f.deps)
	if err != nil {
		f.metrics.RecordClientBuild(ctx, md.Connector.String(), "error")
		f.logger.WithContext(ctx).Error().Err(err).
			Str("datasource", name).
			Str("connector", md.Connector.String()).
			Msg("failed to create client")
		return nil, err
	}

	f.metrics.RecordClientBuild(ctx, md.Connector.String(), "success")
	f.logger.WithContext(ctx).Debug().
		Str("datasource", name).
		Str("connector", md.Connector.String()).
		Msg("created client")
	return c, nil
}

// DataSourceType returns the connector type of name.
func (f *Factory) DataSourceType(ctx context.Context, name string) (datasource.ConnectorType, error) {
	md, err := f.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	return md.Connector, nil
}

func (f *Factory) lookup(ctx context.Context, name string) (datasource.Metadata, error) {
	md, err := f.service.Get(ctx, name)
	if err != nil {
		if errors.Is(err, datasource.ErrNotFound) {
			return datasource.Metadata{}, err
		}
		return datasource.Metadata{}, datasource.ConfigurationWrap(err,
			"Failed to create client for data source: %s", name)
	}
	return md, nil
}

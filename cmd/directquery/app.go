package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yairfalse/directquery/internal/catalog"
	"github.com/yairfalse/directquery/internal/client"
	"github.com/yairfalse/directquery/internal/config"
	"github.com/yairfalse/directquery/internal/directquery"
	"github.com/yairfalse/directquery/internal/guard"
	"github.com/yairfalse/directquery/internal/handler"
	promhandler "github.com/yairfalse/directquery/internal/handler/prometheus"
	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/internal/transport"
)

// app holds every wired component behind the query path.
type app struct {
	cfg       *config.Config
	logger    *telemetry.Logger
	telemetry *telemetry.Provider
	catalog   *catalog.Store
	clients   *client.Factory
	service   *directquery.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (*app, error) {
	store, err := catalog.Open(cfg.DataSources.StoragePath, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, catalog: store}

	if cfg.DataSources.CatalogFile != "" {
		if err := store.Sync(cfg.DataSources.CatalogFile); err != nil {
			_ = a.close(ctx)
			return nil, err
		}
	}

	g, err := newGuard(ctx, cfg.DataSources)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	provider, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("failed to create telemetry provider: %w", err)
	}
	a.telemetry = provider

	metrics, err := telemetry.NewMetrics(provider.Meter())
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	a.clients = client.NewFactory(store, transport.DirectNetwork(),
		client.WithGuard(g),
		client.WithLogger(logger),
		client.WithMetrics(metrics),
	)

	handlers, err := handler.NewRegistry(promhandler.New(logger))
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	a.service = directquery.NewService(a.clients, handlers,
		directquery.WithTracer(provider.Tracer()),
		directquery.WithMetrics(metrics),
		directquery.WithLogger(logger),
	)
	return a, nil
}

func newGuard(ctx context.Context, cfg config.DataSourceConfig) (*guard.Guard, error) {
	var opts []guard.Option
	if cfg.URIPolicyFile != "" {
		src, err := os.ReadFile(cfg.URIPolicyFile) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("read uri policy: %w", err)
		}
		opts = append(opts, guard.WithPolicy(filepath.Base(cfg.URIPolicyFile), string(src)))
	}
	return guard.New(ctx, cfg.URIHostsDenyList, opts...)
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.clients != nil {
		a.clients.Close()
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if a.catalog != nil {
		errs = append(errs, a.catalog.Close())
	}
	return errors.Join(errs...)
}

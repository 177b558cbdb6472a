package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/yairfalse/directquery/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve direct queries over HTTP",
		Long: `Serve direct queries over HTTP.

Endpoints:
  POST /_plugins/_directquery/_query/{datasource}
  GET  /_plugins/_directquery/_resources/{datasource}/api/v1/...
  GET  /health
  GET  /metrics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			logger := opts.newLogger(cfg, cmd.ErrOrStderr())

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown failed")
				}
			}()

			return a.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr: a.cfg.Server.ListenAddr,
		Handler: server.New(a.service,
			server.WithEnabled(a.cfg.DataSources.IsEnabled()),
			server.WithGatherer(a.telemetry.Registry()),
			server.WithLogger(a.logger),
		),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
	}

	var g run.Group

	g.Add(func() error {
		a.logger.Info().
			Str("addr", srv.Addr).
			Bool("enabled", a.cfg.DataSources.IsEnabled()).
			Int("datasources", len(a.catalog.List())).
			Msg("directquery server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	if path := a.cfg.DataSources.CatalogFile; path != "" {
		watchCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return a.catalog.Watch(watchCtx, path)
		}, func(error) {
			cancel()
		})
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err := g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		a.logger.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}

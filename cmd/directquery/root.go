package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/directquery/internal/config"
	"github.com/yairfalse/directquery/internal/telemetry"
)

var version = "0.1.0"

// globalOptions are flags shared by every command.
type globalOptions struct {
	configPath  string
	storagePath string
	logLevel    string
	jsonLogs    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "directquery",
		Short: "Passthrough queries against external data sources",
		Long: `directquery - passthrough queries against external data sources

Resolve a data source by name, build an authenticated client for it and run
PromQL queries or resource lookups against the backend, unmodified.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`directquery {{.Version}}
`)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config file")
	flags.StringVar(&opts.storagePath, "storage", "", "Catalog database path (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (overrides config)")
	flags.BoolVar(&opts.jsonLogs, "json-logs", false, "Write logs as JSON instead of console output")

	cmd.AddCommand(
		newServeCmd(opts),
		newQueryCmd(opts),
		newResourcesCmd(opts),
		newDataSourceCmd(opts),
	)
	return cmd
}

// Execute runs the root command
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.storagePath != "" {
		cfg.DataSources.StoragePath = o.storagePath
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func (o *globalOptions) newLogger(cfg *config.Config, stderr io.Writer) *telemetry.Logger {
	var w io.Writer = stderr
	if !o.jsonLogs {
		w = zerolog.ConsoleWriter{Out: stderr}
	}
	return telemetry.NewLogger(cfg.OTEL.ServiceName, cfg.Log.Level, w)
}

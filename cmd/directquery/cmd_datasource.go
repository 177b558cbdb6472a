package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/directquery/internal/catalog"
	"github.com/yairfalse/directquery/internal/client"
	"github.com/yairfalse/directquery/pkg/datasource"
)

func newDataSourceCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasource",
		Aliases: []string{"ds"},
		Short:   "Manage the data source catalog",
		Long: `Manage the data source catalog.

The catalog database is locked while "serve" runs; stop the server or use a
catalog_file to change data sources of a running server.`,
	}

	cmd.AddCommand(
		newDataSourceAddCmd(opts),
		newDataSourceListCmd(opts),
		newDataSourceRemoveCmd(opts),
	)
	return cmd
}

func newDataSourceAddCmd(opts *globalOptions) *cobra.Command {
	md := datasource.Metadata{}
	var connector string

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add or replace a data source",
		Example: `  directquery datasource add ds1 --property prometheus.uri=http://prometheus:9090
  directquery datasource add amp \
    --property prometheus.uri=https://aps-workspaces.us-east-1.amazonaws.com/workspaces/ws-1 \
    --property prometheus.auth.type=awssigv4auth \
    --property prometheus.auth.region=us-east-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md.Name = args[0]
			md.Connector = datasource.ParseConnectorType(connector)

			return withCatalog(opts, func(store *catalog.Store) error {
				if err := store.Put(md); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "data source %s saved\n", md.Name)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&connector, "connector", datasource.Prometheus.String(), "Connector type")
	flags.StringVar(&md.Description, "description", "", "Free-form description")
	flags.StringToStringVarP(&md.Properties, "property", "p", nil, "Connector property key=value (repeatable)")
	return cmd
}

func newDataSourceListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List data sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCatalog(opts, func(store *catalog.Store) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tCONNECTOR\tURI")
				for _, md := range store.List() {
					// Only the endpoint; other properties may hold credentials.
					uri, _ := md.Property(client.PropPrometheusURI)
					fmt.Fprintf(w, "%s\t%s\t%s\n", md.Name, md.Connector, uri)
				}
				return w.Flush()
			})
		},
	}
}

func newDataSourceRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove NAME",
		Aliases: []string{"rm"},
		Short:   "Remove a data source",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(opts, func(store *catalog.Store) error {
				if err := store.Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "data source %s removed\n", args[0])
				return nil
			})
		},
	}
}

func withCatalog(opts *globalOptions, fn func(*catalog.Store) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	store, err := catalog.Open(cfg.DataSources.StoragePath, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yairfalse/directquery/internal/handler"
	"github.com/yairfalse/directquery/pkg/datasource"
)

func newResourcesCmd(opts *globalOptions) *cobra.Command {
	var (
		req          handler.ResourceRequest
		resourceType string
	)

	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Fetch labels, metadata, series or Alertmanager state",
		Example: `  directquery resources -d ds1 --type labels
  directquery resources -d ds1 --type label_values --name job
  directquery resources -d ds1 --type series --param 'match[]=up'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if resourceType == "" {
				return datasource.InvalidArgument("resource type is required")
			}
			req.Type = handler.ParseResourceType(resourceType)

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				resp, err := a.service.GetDirectQueryResources(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp.Data)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&req.DataSource, "datasource", "d", "", "Data source name")
	flags.StringVar(&resourceType, "type", "", "Resource type (labels, label_values, metadata, series, alertmanager_alerts, ...)")
	flags.StringVar(&req.Name, "name", "", "Label name for label_values")
	flags.StringToStringVar(&req.QueryParams, "param", nil, "Query parameter passed to the backend (repeatable)")

	return cmd
}

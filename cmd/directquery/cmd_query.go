package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/yairfalse/directquery/internal/directquery"
	"github.com/yairfalse/directquery/internal/handler"
	"github.com/yairfalse/directquery/internal/server"
)

func newQueryCmd(opts *globalOptions) *cobra.Command {
	var (
		req       handler.QueryRequest
		queryType string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run one direct query and print the backend result",
		Example: `  directquery query -d ds1 -q 'up' --type range --start 1700000000 --end 1700000600 --step 60s
  directquery query -d ds1 -q 'up' --type instant --time 1700000000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Mode = handler.ParseQueryMode(queryType)
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				resp, err := a.service.ExecuteDirectQuery(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), server.QueryResult{
					QueryID:   resp.QueryID,
					Result:    string(resp.Result),
					SessionID: resp.SessionID,
				})
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&req.DataSource, "datasource", "d", "", "Data source name")
	flags.StringVarP(&req.Query, "query", "q", "", "Query text")
	flags.StringVar(&req.Language, "language", directquery.LanguagePromQL, "Query language")
	flags.StringVar(&queryType, "type", "", "Query type: instant or range")
	flags.StringVar(&req.Start, "start", "", "Range start (unix seconds)")
	flags.StringVar(&req.End, "end", "", "Range end (unix seconds)")
	flags.StringVar(&req.Step, "step", "", "Range step (e.g. 60s)")
	flags.StringVar(&req.Time, "time", "", "Instant evaluation time (unix seconds)")
	flags.IntVar(&req.MaxResults, "max-results", 0, "Maximum number of results (0 = backend default)")
	flags.IntVar(&req.TimeoutMillis, "timeout-ms", 0, "Backend evaluation timeout in milliseconds")
	flags.StringVar(&req.SessionID, "session-id", "", "Session id to carry through")

	return cmd
}

// withApp builds the query path for one command and tears it down after.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(context.Context, *app) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	// Tracing export is a server concern.
	cfg.OTEL.Endpoint = ""

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, opts.newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()

	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/recall"
	"github.com/urfave/cli/v3"
)

func searchCommand() *cli.Command {
	var (
		cfg      config
		query    string
		memType  string
		noExpand bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Natural language query to search memories",
			Sources:     cli.EnvVars("RECALL_SEARCH_QUERY"),
			Destination: &query,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "type",
			Aliases:     []string{"t"},
			Usage:       "Only show memories of this type",
			Destination: &memType,
		},
		&cli.BoolFlag{
			Name:        "no-expand",
			Usage:       "Search with the query as given",
			Destination: &noExpand,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Show ranked memories for a query with raw and blended scores",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			queries := []model.RetrievalQuery{model.NewRetrievalQuery(query, model.QueryOriginOriginal)}
			if !noExpand {
				queries = a.expander.Expand(ctx, query, "")
			}

			var opts []recall.RetrieveOption
			if memType != "" {
				t, ok := model.ParseMemoryType(memType)
				if !ok {
					return goerr.New("unknown memory type", goerr.V("type", memType), goerr.T(model.ErrTagValidation))
				}
				opts = append(opts, recall.WithFilter(&model.Filter{Type: t}))
			}

			result, err := a.engine.Retrieve(ctx, queries, opts...)
			if err != nil {
				return err
			}

			out := c.Root().Writer
			for _, q := range queries {
				fmt.Fprintf(out, "query (%s): %s\n", q.Origin, q.Text)
			}
			fmt.Fprintln(out)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSCORE\tSIMILARITY\tCREATED\tTYPE\tID\tCONTENT")
			for i, m := range result.Memories {
				fmt.Fprintf(w, "%d\t%.3f\t%.3f\t%s\t%s\t%s\t%s\n",
					i+1, m.Score, m.Similarity, formatCreatedAt(m.Memory), m.Memory.Type, m.Memory.ID, snippet(m.Memory.Content, 60))
			}
			if err := w.Flush(); err != nil {
				return goerr.Wrap(err, "failed to write result")
			}

			switch {
			case result.AllFailed():
				fmt.Fprintf(out, "\nerror: all %d queries failed, results are unavailable\n", result.Queries)
			case result.HadFailures():
				fmt.Fprintf(out, "\nwarning: %d of %d queries failed\n", result.FailedQueries, result.Queries)
			}
			return nil
		},
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

package main

import (
	"fmt"
	"time"

	"relaymesh/pkg/types"

	"github.com/spf13/cobra"
)

func queryCmd() *cobra.Command {
	var (
		kinds   []int
		authors []string
		limit   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Fan a query out across the relevant relays",
		Long: `Dispatches the filter to every relevant relay concurrently and prints
the merged, deduplicated records, newest first. Author-scoped queries also
target each author's write relays.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			filter := types.Filter{Kinds: kinds, Limit: limit}
			for _, a := range authors {
				filter.Authors = append(filter.Authors, types.SubjectID(a))
			}
			if filter.Limit == 0 {
				filter.Limit = e.cfg.Defaults.QueryLimit
			}
			if err := filter.Validate(); err != nil {
				return err
			}
			if timeout > 0 {
				e.engine.SetDispatchTimeout(timeout)
			}

			records := e.engine.Query(ctx, []types.Filter{filter})
			if len(records) == 0 {
				fmt.Println(mutedStyle.Render("no records found"))
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					short(string(rec.ID), 12),
					short(string(rec.Author), 12),
					fmt.Sprintf("%d", rec.Kind),
					time.Unix(rec.CreatedAt, 0).Format(time.RFC3339),
					short(rec.Content, 48),
				})
			}

			fmt.Println(titleStyle.Render(fmt.Sprintf("Records (%d)", len(records))))
			fmt.Println(renderTable([]string{"ID", "AUTHOR", "KIND", "TIME", "CONTENT"}, rows))
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&kinds, "kind", nil, "record kind to query (repeatable)")
	cmd.Flags().StringSliceVar(&authors, "author", nil, "scope the query to an author (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "per-relay record limit")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-relay dispatch timeout")

	return cmd
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

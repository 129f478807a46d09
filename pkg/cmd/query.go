package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/planner"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"
)

func newQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [flags] sql",
		Short: "run a statement.",
		Long: `Run one statement. Aggregate queries over scrambled tables are
	answered approximately unless --exact is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := strings.Join(args, " ")
			vc, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer vc.Close()
			ctx := cmdContext(cmd)

			if getFlag(cmd, "explain") {
				plan, err := vc.Executor().Planner().Plan(ctx, sql)
				if errdefs.IsUnsupported(err) {
					plan, err = &planner.Plan{Type: planner.PlanExact, OriginalSQL: sql, Reason: err.Error()}, nil
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}

			var res *result.Result
			if getFlag(cmd, "exact") {
				res, err = vc.Exact(ctx, sql)
			} else {
				res, err = vc.SQL(ctx, sql)
			}
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res, getFlag(cmd, "intervals"))
			return nil
		},
	}
	cmd.Flags().Bool("exact", false, "never use scrambles")
	cmd.Flags().Bool("explain", false, "print the plan instead of running the query")
	cmd.Flags().Bool("intervals", false, "print confidence intervals of approximate answers")
	return cmd
}

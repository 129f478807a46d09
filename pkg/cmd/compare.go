package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sahithikokkula/verdict-aqe/pkg/result"
)

func newCompareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [flags] sql",
		Short: "run a query exactly and approximately and compare the answers.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := strings.Join(args, " ")
			vc, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer vc.Close()
			ctx := cmdContext(cmd)

			exact, err := vc.Exact(ctx, sql)
			if err != nil {
				return err
			}
			approx, err := vc.Approx(ctx, sql)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "exact:")
			printResult(out, exact, false)
			fmt.Fprintln(out, "approximate:")
			printResult(out, approx, true)

			tol := result.Tolerance{Lower: getFloat(cmd, "lower"), Upper: getFloat(cmd, "upper")}
			if err := result.CompareWithTolerance(exact, approx, tol); err != nil {
				return err
			}
			fmt.Fprintf(out, "within [%g, %g] of the exact answer\n", tol.Lower, tol.Upper)
			return nil
		},
	}
	cmd.Flags().Float64("lower", result.DefaultTolerance.Lower, "lower bound of the accepted ratio")
	cmd.Flags().Float64("upper", result.DefaultTolerance.Upper, "upper bound of the accepted ratio")
	return cmd
}

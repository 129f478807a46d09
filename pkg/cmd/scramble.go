package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sahithikokkula/verdict-aqe/pkg/scramble"
	"github.com/sahithikokkula/verdict-aqe/pkg/sqlast"
	"github.com/sahithikokkula/verdict-aqe/pkg/storage"
)

func newScrambleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scramble",
		Short: "create, drop and list scrambles.",
	}

	create := &cobra.Command{
		Use:   "create [flags] source",
		Short: "materialize a scramble of a table.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := sqlast.ParseTableName(args[0])
			if err != nil {
				return err
			}
			var target sqlast.TableName
			if name := getString(cmd, "target"); name != "" {
				if target, err = sqlast.ParseTableName(name); err != nil {
					return err
				}
			}
			vc, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer vc.Close()

			m, err := vc.Builder().Create(cmdContext(cmd), scramble.Request{
				Source:      source,
				Target:      target,
				Method:      getString(cmd, "method"),
				Ratio:       getFloat(cmd, "ratio"),
				BlockSize:   getInt64(cmd, "size"),
				Replace:     getFlag(cmd, "replace"),
				IfNotExists: getFlag(cmd, "if-not-exists"),
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), scramble.Table([]*storage.ScrambleMeta{m}), false)
			return nil
		},
	}
	create.Flags().String("target", "", "scramble name (default: source name plus suffix)")
	create.Flags().String("method", "", "uniform or sample")
	create.Flags().Float64("ratio", 0, "fraction of rows kept by the sample method")
	create.Flags().Int64("size", 0, "rows per block (default: --block-size)")
	create.Flags().Bool("replace", false, "rebuild an existing scramble")
	create.Flags().Bool("if-not-exists", false, "keep an existing scramble")

	drop := &cobra.Command{
		Use:   "drop [flags] name",
		Short: "drop a scramble and its metadata.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := sqlast.ParseTableName(args[0])
			if err != nil {
				return err
			}
			vc, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer vc.Close()
			return vc.Builder().Drop(cmdContext(cmd), name, getFlag(cmd, "if-exists"))
		},
	}
	drop.Flags().Bool("if-exists", false, "succeed when the scramble does not exist")

	list := &cobra.Command{
		Use:   "list",
		Short: "list scrambles.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vc, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer vc.Close()
			ms, err := vc.Builder().List(cmdContext(cmd))
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), scramble.Table(ms), false)
			return nil
		},
	}

	cmd.AddCommand(create, drop, list)
	return cmd
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"
	"github.com/sahithikokkula/verdict-aqe/pkg/verdict"
)

// Get an expected flag, or panic if an error arises.
func getFlag(cmd *cobra.Command, flag string) bool {
	r, err := cmd.Flags().GetBool(flag)
	if err != nil {
		panic(err)
	}
	return r
}

func getString(cmd *cobra.Command, flag string) string {
	r, err := cmd.Flags().GetString(flag)
	if err != nil {
		panic(err)
	}
	return r
}

func getInt(cmd *cobra.Command, flag string) int {
	r, err := cmd.Flags().GetInt(flag)
	if err != nil {
		panic(err)
	}
	return r
}

func getInt64(cmd *cobra.Command, flag string) int64 {
	r, err := cmd.Flags().GetInt64(flag)
	if err != nil {
		panic(err)
	}
	return r
}

func getFloat(cmd *cobra.Command, flag string) float64 {
	r, err := cmd.Flags().GetFloat64(flag)
	if err != nil {
		panic(err)
	}
	return r
}

// configFromFlags assembles the backend and engine options.
func configFromFlags(cmd *cobra.Command) config.Config {
	var cfg config.Config
	switch config.Kind(getString(cmd, "backend")) {
	case config.KindMySQL:
		cfg.Backend = config.MySQL(getString(cmd, "host"), getInt(cmd, "port"),
			getString(cmd, "user"), getString(cmd, "password"), getString(cmd, "database"))
	case config.KindSQLite:
		cfg.Backend = config.SQLite(getString(cmd, "db"))
		cfg.Backend.SchemaDir = getString(cmd, "schema-dir")
	default:
		cfg.Backend = config.Backend{Kind: config.Kind(getString(cmd, "backend"))}
	}

	cfg.Options = config.DefaultOptions()
	cfg.Options.MetaStore = getString(cmd, "meta-store")
	cfg.Options.MetaPath = getString(cmd, "meta-path")
	cfg.Options.DefaultBlockSize = getInt64(cmd, "block-size")
	cfg.Options.ScanBlocks = getInt(cmd, "scan-blocks")
	cfg.Options.Confidence = getFloat(cmd, "confidence")
	cfg.Options.BuildSketches = !getFlag(cmd, "no-sketches")
	cfg.Verbose = getFlag(cmd, "verbose")
	return cfg
}

func openContext(cmd *cobra.Command) (*verdict.Context, error) {
	cfg := configFromFlags(cmd)
	return verdict.Open(cmdContext(cmd), cfg.Backend, cfg.Options)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printResult writes res as aligned columns on a terminal and as tab separated
// values otherwise, followed by a summary line.
func printResult(w io.Writer, res *result.Result, intervals bool) {
	if len(res.Columns()) == 0 {
		fmt.Fprintln(w, "OK")
		return
	}
	out := w
	var tw *tabwriter.Writer
	if isTerminal(w) {
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		out = tw
	}
	fmt.Fprintln(out, strings.Join(res.ColumnNames(), "\t"))
	for _, row := range res.Rows() {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(out, strings.Join(cells, "\t"))
	}
	if tw != nil {
		tw.Flush()
	}

	summary := fmt.Sprintf("(%s rows", humanize.Comma(int64(res.RowCount())))
	if a := res.Approximation(); a != nil {
		summary += fmt.Sprintf(", approximate from %s, %d/%d blocks, sampling ratio %s",
			a.Scramble, a.ScannedBlocks, a.TotalBlocks, humanize.FtoaWithDigits(a.SamplingRatio, 4))
	}
	fmt.Fprintln(w, summary+")")

	if a := res.Approximation(); intervals && a != nil {
		names := make([]string, 0, len(a.Intervals))
		for name := range a.Intervals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ci := a.Intervals[name]
			fmt.Fprintf(w, "%s: %s [%s, %s] at %s%%\n", name,
				humanize.CommafWithDigits(ci.Estimate, 2),
				humanize.CommafWithDigits(ci.Lower, 2),
				humanize.CommafWithDigits(ci.Upper, 2),
				humanize.Ftoa(ci.ConfidenceLevel*100))
		}
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

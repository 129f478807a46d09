// Package cmd implements the verdict command line.
package cmd

import (
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
)

// NewRootCommand builds the command tree. Flag defaults come from the
// VERDICT_* environment.
func NewRootCommand() *cobra.Command {
	env := config.FromEnv()
	root := &cobra.Command{
		Use:          "verdict",
		Short:        "Approximate query engine over scrambled tables.",
		Long:         "Build block-partitioned scrambles of tables and answer aggregate queries from them.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if getFlag(cmd, "verbose") {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("backend", string(env.Backend.Kind), "backing store: sqlite or mysql")
	flags.String("db", env.Backend.Path, "sqlite database file")
	flags.String("schema-dir", env.Backend.SchemaDir, "directory holding sqlite schema files (default <db>.schemas)")
	flags.String("host", envOr("VERDICT_HOST", "localhost"), "mysql host")
	flags.Int("port", envInt("VERDICT_PORT", 3306), "mysql port")
	flags.String("user", envOr("VERDICT_USER", "root"), "mysql user")
	flags.String("password", os.Getenv("VERDICT_PASSWORD"), "mysql password")
	flags.String("database", os.Getenv("VERDICT_DATABASE"), "mysql default database")
	flags.String("meta-store", env.Options.MetaStore, "scramble metadata store: sql or badger")
	flags.String("meta-path", env.Options.MetaPath, "badger directory (empty keeps metadata in memory)")
	flags.Int64("block-size", env.Options.DefaultBlockSize, "default scramble block size")
	flags.Int("scan-blocks", env.Options.ScanBlocks, "blocks read per approximate query (0 reads all)")
	flags.Float64("confidence", env.Options.Confidence, "confidence level of reported intervals")
	flags.Bool("no-sketches", false, "do not build column sketches with scrambles")
	flags.BoolP("verbose", "v", false, "increase logging verbosity")

	root.AddCommand(newServeCommand(env.Port))
	root.AddCommand(newQueryCommand())
	root.AddCommand(newScrambleCommand())
	root.AddCommand(newSeedCommand())
	root.AddCommand(newCompareCommand())
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

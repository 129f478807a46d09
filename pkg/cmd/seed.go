package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sahithikokkula/verdict-aqe/pkg/verdict"
)

func newSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "load demo tables.",
		Long: `Create schema.T(intCol) holding 0..rows-1 and, with --purchases,
	a schema.purchases table of random orders.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vc, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer vc.Close()
			return Seed(cmdContext(cmd), vc, getString(cmd, "schema"), getInt(cmd, "rows"), getInt(cmd, "purchases"))
		},
	}
	cmd.Flags().String("schema", "S", "schema to create the tables in")
	cmd.Flags().Int("rows", 1000, "rows of the T table")
	cmd.Flags().Int("purchases", 0, "rows of the purchases table (0 skips it)")
	return cmd
}

// Seed (re)creates schema.T with intCol 0..rows-1, and schema.purchases with
// the given number of random orders when purchases is positive.
func Seed(ctx context.Context, vc *verdict.Context, schema string, rows, purchases int) error {
	for _, stmt := range []string{
		"CREATE SCHEMA IF NOT EXISTS " + schema,
		fmt.Sprintf("DROP TABLE IF EXISTS %s.T", schema),
		fmt.Sprintf("CREATE TABLE %s.T (intCol INTEGER)", schema),
	} {
		if _, err := vc.Exact(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare %s.T: %w", schema, err)
		}
	}
	if err := insertRows(ctx, vc, fmt.Sprintf("INSERT INTO %s.T (intCol) VALUES (?)", schema), rows,
		func(i int, _ *rand.Rand) []any { return []any{i} }); err != nil {
		return err
	}
	log.WithFields(log.Fields{"table": schema + ".T", "rows": rows}).Info("seeded")

	if purchases <= 0 {
		return nil
	}
	for _, stmt := range []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s.purchases", schema),
		fmt.Sprintf("CREATE TABLE %s.purchases (id INTEGER, dt VARCHAR(32), country VARCHAR(8), amount DOUBLE)", schema),
	} {
		if _, err := vc.Exact(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare %s.purchases: %w", schema, err)
		}
	}
	countries := []string{"US", "IN", "DE", "FR", "GB", "BR", "CA", "AU", "JP", "MX"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := insertRows(ctx, vc, fmt.Sprintf("INSERT INTO %s.purchases (id, dt, country, amount) VALUES (?, ?, ?, ?)", schema), purchases,
		func(i int, rng *rand.Rand) []any {
			d := start.Add(time.Duration(rng.Intn(365*24)) * time.Hour)
			// heavy-tailed amounts
			amt := 10 + rng.ExpFloat64()*50
			return []any{i, d.Format(time.RFC3339), countries[rng.Intn(len(countries))], amt}
		})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"table": schema + ".purchases", "rows": purchases}).Info("seeded")
	return nil
}

func insertRows(ctx context.Context, vc *verdict.Context, insert string, n int, row func(int, *rand.Rand) []any) error {
	rng := rand.New(rand.NewSource(42))
	tx, err := vc.Store().DB().BeginTx(ctx, nil)
	if err != nil {
		return vc.Store().Dialect().Classify(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return vc.Store().Dialect().Classify(err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i, rng)...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, vc.Store().Dialect().Classify(err))
		}
		if i > 0 && i%100000 == 0 {
			log.WithField("rows", i).Debug("inserted")
		}
	}
	return tx.Commit()
}

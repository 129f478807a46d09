package scramble

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sahithikokkula/verdict-aqe/pkg/dialect"
	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
	"github.com/sahithikokkula/verdict-aqe/pkg/storage"
	"github.com/sahithikokkula/verdict-aqe/pkg/store"
)

const (
	hllPrecision = 12
	cmsEpsilon   = 0.01
	cmsDelta     = 0.01
)

// buildSketches stores a HyperLogLog and a Count-Min sketch per column. They
// summarize the scramble itself, so they are only built for full copies.
func (b *Builder) buildSketches(ctx context.Context, m *storage.ScrambleMeta, columns []string) error {
	d := b.store.Dialect()
	table := dialect.Qualified(d, m.Schema, m.Table)
	for _, col := range columns {
		if strings.EqualFold(col, m.BlockColumn) {
			continue
		}
		hll, cm, class, err := b.sketchColumn(ctx, d, table, col)
		if err != nil {
			return fmt.Errorf("failed to sketch %s.%s: %w", m.Name(), col, err)
		}
		hllData, err := hll.MarshalBinary()
		if err != nil {
			return err
		}
		cmData, err := cm.MarshalBinary()
		if err != nil {
			return err
		}
		now := time.Now().UTC().Round(0)
		err = b.meta.PutSketch(ctx, &storage.SketchInfo{
			Type:       sketches.HyperLogLogType,
			Schema:     m.Schema,
			Table:      m.Table,
			Column:     col,
			Data:       hllData,
			Parameters: map[string]any{"precision": hllPrecision},
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		err = b.meta.PutSketch(ctx, &storage.SketchInfo{
			Type:       sketches.CountMinSketchType,
			Schema:     m.Schema,
			Table:      m.Table,
			Column:     col,
			Data:       cmData,
			Parameters: map[string]any{"epsilon": cmsEpsilon, "delta": cmsDelta, storage.ClassParameter: string(class)},
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"scramble": m.Name(), "column": col, "distinct": hll.Estimate()}).Debug("sketched column")
	}
	return nil
}

// sketchColumn streams the column's value frequencies into both sketches and
// reports the class of the values seen.
func (b *Builder) sketchColumn(ctx context.Context, d dialect.Dialect, table, col string) (*sketches.HyperLogLog, *sketches.CountMin, sketches.Class, error) {
	hll := sketches.NewHyperLogLog(hllPrecision)
	cm := sketches.NewCountMin(cmsEpsilon, cmsDelta)

	qc := d.QuoteIdent(col)
	rows, err := b.store.DB().QueryContext(ctx, fmt.Sprintf(
		"SELECT %s, COUNT(*) FROM %s WHERE %s IS NOT NULL GROUP BY %s", qc, table, qc, qc))
	if err != nil {
		return nil, nil, "", d.Classify(err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, "", err
	}
	dbType := strings.ToUpper(colTypes[0].DatabaseTypeName())
	var class sketches.Class
	for rows.Next() {
		var (
			value any
			count int64
		)
		if err := rows.Scan(&value, &count); err != nil {
			return nil, nil, "", err
		}
		v := store.Normalize(value, dbType)
		class = class.Join(sketches.ClassOf(v))
		hll.Observe(v)
		cm.Observe(v, uint64(count))
	}
	return hll, cm, class, rows.Err()
}

// Package scramble materializes block-partitioned copies of tables. Every row
// of a scramble carries a block id: its 0-based position in a pseudo-random
// order of the rows divided by the block size, so ids form the contiguous range
// 0..ceil(rows/size)-1 and any prefix of blocks is a uniform sample.
package scramble

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/dialect"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"
	"github.com/sahithikokkula/verdict-aqe/pkg/sqlast"
	"github.com/sahithikokkula/verdict-aqe/pkg/storage"
	"github.com/sahithikokkula/verdict-aqe/pkg/store"
)

// Scrambling methods.
const (
	MethodUniform = "uniform" // every source row
	MethodSample  = "sample"  // Bernoulli sample of the source rows
)

// Request describes one scramble. Zero values take the builder's defaults;
// an empty Target is the source name plus the scramble suffix.
type Request struct {
	Source      sqlast.TableName
	Target      sqlast.TableName
	BlockSize   int64
	Method      string
	Ratio       float64
	Replace     bool
	IfNotExists bool
}

// FromStatement converts a parsed CREATE SCRAMBLE.
func FromStatement(st *sqlast.CreateScramble) Request {
	req := Request{
		Source:      st.Source,
		Target:      st.Target,
		BlockSize:   st.BlockSize,
		Method:      st.Method,
		Ratio:       st.Ratio,
		Replace:     st.Replace,
		IfNotExists: st.IfNotExists,
	}
	if st.Source.Name == "" {
		req.Source, req.Target = st.Target, sqlast.TableName{}
	}
	return req
}

type Builder struct {
	store *store.Store
	meta  storage.MetaStore
	opts  config.Options
}

func NewBuilder(st *store.Store, meta storage.MetaStore, opts config.Options) *Builder {
	return &Builder{store: st, meta: meta, opts: opts}
}

func (b *Builder) withDefaults(req Request) (Request, error) {
	if req.Source.Name == "" {
		return req, errdefs.Newf(errdefs.ErrInvalidArgument, "scramble source required")
	}
	if req.Target.Name == "" {
		req.Target = sqlast.TableName{Schema: req.Source.Schema, Name: req.Source.Name + b.opts.ScrambleSuffix}
	}
	if strings.EqualFold(req.Target.String(), req.Source.String()) {
		return req, errdefs.Newf(errdefs.ErrInvalidArgument, "scramble %s cannot replace its source", req.Target)
	}
	if req.Method == "" {
		req.Method = b.opts.DefaultMethod
	}
	req.Method = strings.ToLower(req.Method)
	if req.BlockSize == 0 {
		req.BlockSize = b.opts.DefaultBlockSize
	}
	if req.BlockSize < 1 {
		return req, errdefs.Newf(errdefs.ErrInvalidArgument, "block size must be at least 1, got %d", req.BlockSize)
	}
	switch req.Method {
	case MethodUniform:
		if req.Ratio == 0 {
			req.Ratio = 1
		}
		if req.Ratio != 1 {
			return req, errdefs.Newf(errdefs.ErrInvalidArgument, "method %s copies every row; use %s for ratio %g", MethodUniform, MethodSample, req.Ratio)
		}
	case MethodSample:
		if req.Ratio == 0 {
			req.Ratio = 0.1
		}
		if req.Ratio <= 0 || req.Ratio > 1 {
			return req, errdefs.Newf(errdefs.ErrInvalidArgument, "ratio must be in (0, 1], got %g", req.Ratio)
		}
	default:
		return req, errdefs.Newf(errdefs.ErrInvalidArgument, "unknown scrambling method %q", req.Method)
	}
	return req, nil
}

// Create materializes the scramble and records its metadata. With
// IfNotExists, an existing scramble is returned unchanged; with Replace, it is
// rebuilt.
func (b *Builder) Create(ctx context.Context, req Request) (*storage.ScrambleMeta, error) {
	req, err := b.withDefaults(req)
	if err != nil {
		return nil, err
	}
	d := b.store.Dialect()
	src, tgt := req.Source, req.Target
	logger := log.WithFields(log.Fields{"source": src.String(), "target": tgt.String(), "method": req.Method})

	exists, err := b.store.TableExists(ctx, src.Schema, src.Name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errdefs.Newf(errdefs.ErrObjectNotFound, "table %s does not exist", src)
	}

	exists, err = b.store.TableExists(ctx, tgt.Schema, tgt.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		switch {
		case req.IfNotExists:
			logger.Debug("scramble exists, skipping")
			m, err := b.meta.GetScramble(ctx, tgt.Schema, tgt.Name)
			if errdefs.IsNotFound(err) {
				return nil, errdefs.Newf(errdefs.ErrObjectAlreadyExists, "table %s exists and is not a scramble", tgt)
			}
			return m, err
		case req.Replace:
			if err := b.dropTable(ctx, tgt); err != nil {
				return nil, err
			}
		default:
			return nil, errdefs.Newf(errdefs.ErrObjectAlreadyExists, "table %s already exists", tgt)
		}
	}

	cols, err := b.store.Query(ctx, "SELECT * FROM "+src.Render(d)+" WHERE 1 = 0")
	if err != nil {
		return nil, err
	}
	for _, c := range cols.ColumnNames() {
		if strings.EqualFold(c, b.opts.BlockColumn) {
			return nil, errdefs.Newf(errdefs.ErrInvalidArgument, "%s already has a %s column", src, b.opts.BlockColumn)
		}
	}

	sourceRows, err := b.store.Count(ctx, src.Schema, src.Name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := b.store.Exec(ctx, b.createSQL(d, req, cols.ColumnNames())); err != nil {
		return nil, fmt.Errorf("failed to create scramble %s: %w", tgt, err)
	}

	m, err := b.describe(ctx, req, sourceRows)
	if err == nil {
		err = b.meta.PutScramble(ctx, m)
	}
	if err == nil && b.opts.BuildSketches && m.RelativeSize == 1 {
		err = b.buildSketches(ctx, m, cols.ColumnNames())
	}
	if err != nil {
		// leave nothing half-built behind
		if dropErr := b.dropTable(ctx, tgt); dropErr != nil {
			logger.WithError(dropErr).Warn("failed to clean up scramble")
		}
		_ = b.meta.DeleteScramble(ctx, tgt.Schema, tgt.Name)
		return nil, err
	}

	logger.WithFields(log.Fields{
		"rows":    m.RowCount,
		"blocks":  m.BlockCount,
		"elapsed": time.Since(start),
	}).Info("scramble created")
	return m, nil
}

// createSQL copies (or samples) the source and numbers its rows in the order
// of a hash of their scan position. Rebuilding from the same scan order yields
// the same blocks.
func (b *Builder) createSQL(d dialect.Dialect, req Request, columns []string) string {
	row := d.QuoteIdent(b.opts.BlockColumn + "_row")
	key := d.QuoteIdent(b.opts.BlockColumn + "_key")

	numbered := fmt.Sprintf("SELECT src.*, ROW_NUMBER() OVER () AS %s FROM %s src", row, req.Source.Render(d))
	if req.Method == MethodSample && req.Ratio < 1 {
		numbered += " WHERE " + d.SamplePredicate(req.Ratio)
	}
	keyed := fmt.Sprintf("SELECT numbered.*, %s AS %s FROM (%s) numbered", d.ShuffleKey("numbered."+row), key, numbered)

	out := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		out = append(out, "shuffled."+d.QuoteIdent(c)+" AS "+d.QuoteIdent(c))
	}
	out = append(out, d.BlockIDExpr(req.BlockSize, "shuffled."+key+", shuffled."+row)+" AS "+d.QuoteIdent(b.opts.BlockColumn))
	return fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM (%s) shuffled",
		req.Target.Render(d), strings.Join(out, ", "), keyed)
}

// describe reads the row and block counts back from the materialized table.
func (b *Builder) describe(ctx context.Context, req Request, sourceRows int64) (*storage.ScrambleMeta, error) {
	d := b.store.Dialect()
	res, err := b.store.Query(ctx, fmt.Sprintf("SELECT count(*), max(%s) FROM %s",
		d.QuoteIdent(b.opts.BlockColumn), req.Target.Render(d)))
	if err != nil {
		return nil, err
	}
	rows, _ := result.ToFloat64(res.Value(0, 0))
	blockCount := int64(0)
	if maxBlock, ok := result.ToFloat64(res.Value(0, 1)); ok {
		blockCount = int64(maxBlock) + 1
	}

	relative := 1.0
	if req.Method == MethodSample && sourceRows > 0 {
		relative = rows / float64(sourceRows)
	}
	return &storage.ScrambleMeta{
		Schema:         req.Target.Schema,
		Table:          req.Target.Name,
		OriginalSchema: req.Source.Schema,
		OriginalTable:  req.Source.Name,
		BlockColumn:    b.opts.BlockColumn,
		BlockSize:      req.BlockSize,
		BlockCount:     blockCount,
		Method:         req.Method,
		RelativeSize:   relative,
		SourceRows:     sourceRows,
		RowCount:       int64(rows),
		CreatedAt:      time.Now().UTC().Round(0),
	}, nil
}

// Drop removes a scramble table and its metadata.
func (b *Builder) Drop(ctx context.Context, name sqlast.TableName, ifExists bool) error {
	m, err := b.meta.GetScramble(ctx, name.Schema, name.Name)
	if err != nil {
		if errdefs.IsNotFound(err) && ifExists {
			return nil
		}
		return err
	}
	if err := b.dropTable(ctx, sqlast.TableName{Schema: m.Schema, Name: m.Table}); err != nil {
		return err
	}
	if err := storage.Forget(ctx, b.meta, m.Schema, m.Table); err != nil {
		return err
	}
	log.WithField("scramble", m.Name()).Info("scramble dropped")
	return nil
}

// Prune forgets the metadata of scrambles whose tables were dropped outside
// the builder and returns them.
func (b *Builder) Prune(ctx context.Context) ([]*storage.ScrambleMeta, error) {
	gone, err := storage.Prune(ctx, b.meta, b.store)
	for _, m := range gone {
		log.WithField("scramble", m.Name()).Info("forgot scramble whose table is gone")
	}
	return gone, err
}

func (b *Builder) dropTable(ctx context.Context, t sqlast.TableName) error {
	return b.store.Exec(ctx, "DROP TABLE IF EXISTS "+t.Render(b.store.Dialect()))
}

func (b *Builder) List(ctx context.Context) ([]*storage.ScrambleMeta, error) {
	return b.meta.ListScrambles(ctx)
}

// Table renders scramble metadata as a result, one row per scramble.
func Table(ms []*storage.ScrambleMeta) *result.Result {
	columns := []result.Column{
		{Name: "schema", Type: "VARCHAR"},
		{Name: "name", Type: "VARCHAR"},
		{Name: "original_schema", Type: "VARCHAR"},
		{Name: "original_table", Type: "VARCHAR"},
		{Name: "method", Type: "VARCHAR"},
		{Name: "block_size", Type: "BIGINT"},
		{Name: "block_count", Type: "BIGINT"},
		{Name: "relative_size", Type: "DOUBLE"},
		{Name: "row_count", Type: "BIGINT"},
	}
	rows := make([][]any, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, []any{
			m.Schema, m.Table, m.OriginalSchema, m.OriginalTable, m.Method,
			m.BlockSize, m.BlockCount, m.RelativeSize, m.RowCount,
		})
	}
	return result.New(columns, rows)
}

// ExpectedBlocks is ceil(rows/blockSize).
func ExpectedBlocks(rows, blockSize int64) int64 {
	if rows <= 0 || blockSize <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(rows) / float64(blockSize)))
}

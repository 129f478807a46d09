// Package storage keeps scramble and sketch metadata. Two stores implement
// MetaStore: tables inside the backing database (the default) and an embedded
// badger database. Either can sit behind a ristretto cache.
package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/dialect"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
)

// ScrambleMeta describes one materialized scramble.
type ScrambleMeta struct {
	Schema         string    `json:"schema"`
	Table          string    `json:"table"`
	OriginalSchema string    `json:"original_schema"`
	OriginalTable  string    `json:"original_table"`
	BlockColumn    string    `json:"block_column"`
	BlockSize      int64     `json:"block_size"`
	BlockCount     int64     `json:"block_count"`
	Method         string    `json:"method"`
	RelativeSize   float64   `json:"relative_size"`
	SourceRows     int64     `json:"source_rows"`
	RowCount       int64     `json:"row_count"`
	CreatedAt      time.Time `json:"created_at"`
}

func (m *ScrambleMeta) Name() string     { return m.Schema + "." + m.Table }
func (m *ScrambleMeta) Original() string { return m.OriginalSchema + "." + m.OriginalTable }

// IsScrambleOf reports whether m was built from schema.table.
func (m *ScrambleMeta) IsScrambleOf(schema, table string) bool {
	return strings.EqualFold(m.OriginalSchema, schema) && strings.EqualFold(m.OriginalTable, table)
}

// SketchInfo contains a sketch built over one column of a scramble.
type SketchInfo struct {
	Type       sketches.SketchType `json:"type"`
	Schema     string              `json:"schema"`
	Table      string              `json:"table"`
	Column     string              `json:"column,omitempty"`
	Data       []byte              `json:"data,omitempty"`
	Parameters map[string]any      `json:"parameters"`
	CreatedAt  time.Time           `json:"created_at"`
}

// ClassParameter names the Parameters entry holding the sketches.Class of the
// column's values.
const ClassParameter = "class"

// Class is the recorded class of the sketched values, empty when unknown.
func (s *SketchInfo) Class() sketches.Class {
	c, _ := s.Parameters[ClassParameter].(string)
	return sketches.Class(c)
}

// Decode restores the stored sketch.
func (s *SketchInfo) Decode() (sketches.Sketch, error) {
	return sketches.Decode(s.Type, s.Data)
}

// MetaStore persists scramble and sketch metadata. Lookups of missing entries
// fail with errdefs.ErrObjectNotFound. Names compare case-insensitively.
type MetaStore interface {
	PutScramble(ctx context.Context, m *ScrambleMeta) error
	GetScramble(ctx context.Context, schema, table string) (*ScrambleMeta, error)
	ListScrambles(ctx context.Context) ([]*ScrambleMeta, error)
	DeleteScramble(ctx context.Context, schema, table string) error

	PutSketch(ctx context.Context, s *SketchInfo) error
	GetSketch(ctx context.Context, schema, table, column string, t sketches.SketchType) (*SketchInfo, error)
	ListSketches(ctx context.Context, schema, table string) ([]*SketchInfo, error)
	DeleteSketches(ctx context.Context, schema, table string) error

	Close() error
}

// Catalog reports whether a table exists in the backing store.
type Catalog interface {
	TableExists(ctx context.Context, schema, table string) (bool, error)
}

// Forget removes the sketches and metadata of a scramble. Forgetting an
// unknown scramble is not an error.
func Forget(ctx context.Context, ms MetaStore, schema, table string) error {
	if err := ms.DeleteSketches(ctx, schema, table); err != nil {
		return err
	}
	if err := ms.DeleteScramble(ctx, schema, table); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// Live reports whether m's table still exists, forgetting m when it does not.
func Live(ctx context.Context, ms MetaStore, c Catalog, m *ScrambleMeta) (bool, error) {
	ok, err := c.TableExists(ctx, m.Schema, m.Table)
	if err != nil || ok {
		return ok, err
	}
	return false, Forget(ctx, ms, m.Schema, m.Table)
}

// Prune forgets every scramble whose table is gone and returns them.
func Prune(ctx context.Context, ms MetaStore, c Catalog) ([]*ScrambleMeta, error) {
	all, err := ms.ListScrambles(ctx)
	if err != nil {
		return nil, err
	}
	var gone []*ScrambleMeta
	for _, m := range all {
		ok, err := Live(ctx, ms, c, m)
		if err != nil {
			return gone, err
		}
		if !ok {
			gone = append(gone, m)
		}
	}
	return gone, nil
}

// Open builds the metadata store selected by opts, wrapped in a cache when
// opts.CacheMetadata is set.
func Open(ctx context.Context, opts config.Options, db *sql.DB, d dialect.Dialect) (MetaStore, error) {
	var (
		ms  MetaStore
		err error
	)
	switch opts.MetaStore {
	case config.MetaStoreBadger:
		ms, err = OpenBadger(opts.MetaPath)
	default:
		ms, err = NewSQLStore(ctx, db, d)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheMetadata {
		return NewCached(ms)
	}
	return ms, nil
}

func key(schema, table string) string {
	return strings.ToLower(schema + "." + table)
}

func sortScrambles(ms []*ScrambleMeta) {
	sort.Slice(ms, func(i, j int) bool {
		return key(ms[i].Schema, ms[i].Table) < key(ms[j].Schema, ms[j].Table)
	})
}

func sortSketches(ss []*SketchInfo) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Column != ss[j].Column {
			return ss[i].Column < ss[j].Column
		}
		return ss[i].Type < ss[j].Type
	})
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sahithikokkula/verdict-aqe/pkg/dialect"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
)

const (
	scramblesTable = "verdict_scrambles"
	sketchesTable  = "verdict_sketches"
)

// SQLStore keeps metadata in tables of the backing database, next to the
// scrambles they describe.
type SQLStore struct {
	db *sql.DB
	d  dialect.Dialect
}

func NewSQLStore(ctx context.Context, db *sql.DB, d dialect.Dialect) (*SQLStore, error) {
	if err := EnsureMetaTables(ctx, db, d); err != nil {
		return nil, fmt.Errorf("failed to create metadata tables: %w", err)
	}
	return &SQLStore{db: db, d: d}, nil
}

func EnsureMetaTables(ctx context.Context, db *sql.DB, d dialect.Dialect) error {
	stmts := d.MetaSchemaDDL()
	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			scramble_key %s NOT NULL PRIMARY KEY,
			schema_name %[2]s NOT NULL,
			table_name %[2]s NOT NULL,
			original_schema %[2]s NOT NULL,
			original_table %[2]s NOT NULL,
			block_column %[2]s NOT NULL,
			block_size BIGINT NOT NULL,
			block_count BIGINT NOT NULL,
			method %[2]s NOT NULL,
			relative_size DOUBLE PRECISION NOT NULL,
			source_rows BIGINT NOT NULL,
			row_count BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		)`, d.MetaTable(scramblesTable), d.KeyType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			scramble_key %s NOT NULL,
			column_name %[2]s NOT NULL,
			sketch_type %[2]s NOT NULL,
			sketch_data %s NOT NULL,
			parameters TEXT,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (scramble_key, column_name, sketch_type)
		)`, d.MetaTable(sketchesTable), d.KeyType(), d.BlobType()),
	)
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return d.Classify(err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return nil }

// PutScramble stores or replaces the metadata of a scramble.
func (s *SQLStore) PutScramble(ctx context.Context, m *ScrambleMeta) error {
	k := key(m.Schema, m.Table)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.d.MetaTable(scramblesTable)+" WHERE scramble_key = ?", k); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO `+s.d.MetaTable(scramblesTable)+`
			(scramble_key, schema_name, table_name, original_schema, original_table, block_column,
			 block_size, block_count, method, relative_size, source_rows, row_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			k, m.Schema, m.Table, m.OriginalSchema, m.OriginalTable, m.BlockColumn,
			m.BlockSize, m.BlockCount, m.Method, m.RelativeSize, m.SourceRows, m.RowCount,
			m.CreatedAt.UnixNano())
		return err
	})
}

const scrambleColumns = `schema_name, table_name, original_schema, original_table, block_column,
	block_size, block_count, method, relative_size, source_rows, row_count, created_at`

func (s *SQLStore) GetScramble(ctx context.Context, schema, table string) (*ScrambleMeta, error) {
	ms, err := s.queryScrambles(ctx, " WHERE scramble_key = ?", key(schema, table))
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, errdefs.Newf(errdefs.ErrObjectNotFound, "scramble %s.%s does not exist", schema, table)
	}
	return ms[0], nil
}

func (s *SQLStore) ListScrambles(ctx context.Context) ([]*ScrambleMeta, error) {
	ms, err := s.queryScrambles(ctx, "")
	if err != nil {
		return nil, err
	}
	sortScrambles(ms)
	return ms, nil
}

func (s *SQLStore) queryScrambles(ctx context.Context, where string, args ...any) ([]*ScrambleMeta, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+scrambleColumns+" FROM "+s.d.MetaTable(scramblesTable)+where, args...)
	if err != nil {
		return nil, s.d.Classify(err)
	}
	defer rows.Close()

	var ms []*ScrambleMeta
	for rows.Next() {
		var (
			m       ScrambleMeta
			created int64
		)
		err := rows.Scan(&m.Schema, &m.Table, &m.OriginalSchema, &m.OriginalTable, &m.BlockColumn,
			&m.BlockSize, &m.BlockCount, &m.Method, &m.RelativeSize, &m.SourceRows, &m.RowCount, &created)
		if err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(0, created).UTC()
		ms = append(ms, &m)
	}
	return ms, rows.Err()
}

func (s *SQLStore) DeleteScramble(ctx context.Context, schema, table string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+s.d.MetaTable(scramblesTable)+" WHERE scramble_key = ?", key(schema, table))
	if err != nil {
		return s.d.Classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errdefs.Newf(errdefs.ErrObjectNotFound, "scramble %s.%s does not exist", schema, table)
	}
	return nil
}

// PutSketch stores or updates a sketch
func (s *SQLStore) PutSketch(ctx context.Context, info *SketchInfo) error {
	params, err := json.Marshal(info.Parameters)
	if err != nil {
		return err
	}
	k := key(info.Schema, info.Table)
	column := strings.ToLower(info.Column)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM "+s.d.MetaTable(sketchesTable)+
			" WHERE scramble_key = ? AND column_name = ? AND sketch_type = ?", k, column, string(info.Type))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO `+s.d.MetaTable(sketchesTable)+`
			(scramble_key, column_name, sketch_type, sketch_data, parameters, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			k, column, string(info.Type), info.Data, string(params), info.CreatedAt.UnixNano())
		return err
	})
}

// GetSketch retrieves a sketch
func (s *SQLStore) GetSketch(ctx context.Context, schema, table, column string, t sketches.SketchType) (*SketchInfo, error) {
	infos, err := s.querySketches(ctx, schema, table,
		" AND column_name = ? AND sketch_type = ?", strings.ToLower(column), string(t))
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, errdefs.Newf(errdefs.ErrObjectNotFound, "no %s sketch on %s.%s(%s)", t, schema, table, column)
	}
	return infos[0], nil
}

// ListSketches returns all sketches for a table
func (s *SQLStore) ListSketches(ctx context.Context, schema, table string) ([]*SketchInfo, error) {
	infos, err := s.querySketches(ctx, schema, table, "")
	if err != nil {
		return nil, err
	}
	sortSketches(infos)
	return infos, nil
}

func (s *SQLStore) querySketches(ctx context.Context, schema, table, cond string, args ...any) ([]*SketchInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name, sketch_type, sketch_data, parameters, created_at
		FROM `+s.d.MetaTable(sketchesTable)+`
		WHERE scramble_key = ?`+cond,
		append([]any{key(schema, table)}, args...)...)
	if err != nil {
		return nil, s.d.Classify(err)
	}
	defer rows.Close()

	var infos []*SketchInfo
	for rows.Next() {
		var (
			column, sketchType string
			data               []byte
			parameters         sql.NullString
			createdAt          int64
		)
		if err := rows.Scan(&column, &sketchType, &data, &parameters, &createdAt); err != nil {
			return nil, err
		}
		info := &SketchInfo{
			Type:       sketches.SketchType(sketchType),
			Schema:     schema,
			Table:      table,
			Column:     column,
			Data:       data,
			Parameters: map[string]any{},
			CreatedAt:  time.Unix(0, createdAt).UTC(),
		}
		if parameters.Valid && parameters.String != "" {
			if err := json.Unmarshal([]byte(parameters.String), &info.Parameters); err != nil {
				return nil, fmt.Errorf("bad sketch parameters: %w", err)
			}
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLStore) DeleteSketches(ctx context.Context, schema, table string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+s.d.MetaTable(sketchesTable)+" WHERE scramble_key = ?", key(schema, table))
	return s.d.Classify(err)
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.d.Classify(err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%v (rollback: %w)", err, rbErr)
		}
		return s.d.Classify(err)
	}
	return s.d.Classify(tx.Commit())
}

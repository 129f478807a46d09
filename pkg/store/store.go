// Package store is the exact execution path: it forwards SQL to the backing
// database and materializes the full answer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/dialect"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"

	// database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

type Store struct {
	db      *sql.DB
	dialect dialect.Dialect
	backend config.Backend
}

// Open connects to the backend and verifies the connection with a ping.
func Open(ctx context.Context, b config.Backend) (*Store, error) {
	d, err := dialect.For(b)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), d.DSN())
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConnection, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errdefs.Wrap(errdefs.ErrConnection, fmt.Errorf("failed to connect to %s: %w", b, err))
	}
	if err := d.Init(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize %s: %w", d.Name(), err)
	}
	log.WithField("backend", b.String()).Info("connected")
	return &Store{db: db, dialect: d, backend: b}, nil
}

// New wraps an already opened pool. Init must have been run by the caller.
func New(db *sql.DB, d dialect.Dialect) *Store {
	return &Store{db: db, dialect: d}
}

func (s *Store) DB() *sql.DB              { return s.db }
func (s *Store) Dialect() dialect.Dialect { return s.dialect }
func (s *Store) Backend() config.Backend  { return s.backend }
func (s *Store) Close() error             { return s.db.Close() }

// Execute runs a user statement exactly. Statements that produce rows return
// them all; everything else returns an empty result. A conditional DDL
// statement whose condition trips (IF EXISTS on a missing object, IF NOT EXISTS
// on an existing one) also returns an empty result.
func (s *Store) Execute(ctx context.Context, stmt string) (*result.Result, error) {
	res, err := s.execute(ctx, stmt)
	if err != nil {
		if dialect.IsConditionalDDL(stmt) && (errdefs.IsNotFound(err) || errdefs.IsAlreadyExists(err)) {
			log.WithError(err).Debug("conditional ddl skipped")
			return result.Empty(), nil
		}
		return nil, err
	}
	return res, nil
}

func (s *Store) execute(ctx context.Context, stmt string) (*result.Result, error) {
	steps, err := s.dialect.Translate(ctx, s.db, stmt)
	if err != nil {
		return nil, err
	}
	res := result.Empty()
	for _, step := range steps {
		log.WithFields(log.Fields{"backend": s.dialect.Name(), "sql": step.SQL}).Debug("execute")
		if dialect.ReturnsRows(step.SQL) {
			res, err = s.Query(ctx, step.SQL, step.Args...)
		} else {
			err = s.Exec(ctx, step.SQL, step.Args...)
		}
		if err != nil {
			return nil, err
		}
		if step.After != nil {
			if err := step.After(); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

// Query runs a backend statement with arguments and materializes its rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*result.Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dialect.Classify(err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, s.dialect.Classify(err)
	}
	dbTypes := make([]string, len(colTypes))
	for i, ct := range colTypes {
		dbTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	data := make([][]any, 0, 64)
	for rows.Next() {
		vals := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, s.dialect.Classify(err)
		}
		for i := range vals {
			vals[i] = Normalize(vals[i], dbTypes[i])
		}
		data = append(data, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dialect.Classify(err)
	}

	columns := make([]result.Column, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = result.Column{Name: ct.Name(), Type: columnType(dbTypes[i], i, data)}
	}
	return result.New(columns, data), nil
}

// Exec runs a backend statement that returns no rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.dialect.Classify(err)
	}
	return nil
}

func (s *Store) TableExists(ctx context.Context, schema, table string) (bool, error) {
	return s.dialect.TableExists(ctx, s.db, schema, table)
}

// Count returns the number of rows in schema.table.
func (s *Store) Count(ctx context.Context, schema, table string) (int64, error) {
	res, err := s.Query(ctx, "SELECT count(*) FROM "+dialect.Qualified(s.dialect, schema, table))
	if err != nil {
		return 0, err
	}
	n, _ := result.ToFloat64(res.Value(0, 0))
	return int64(n), nil
}

// Normalize converts a scanned driver value to int64, float64, string, bool,
// time.Time, []byte or nil. Text-protocol bytes are decoded according to the
// column's declared type.
func Normalize(v any, dbType string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int64, float64, string, bool, time.Time:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint64:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return decodeBytes(x, dbType)
	}
	return v
}

func decodeBytes(b []byte, dbType string) any {
	s := string(b)
	switch {
	case isBinaryType(dbType):
		return append([]byte(nil), b...)
	case isIntType(dbType):
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case isFloatType(dbType):
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func isIntType(t string) bool {
	t = strings.TrimPrefix(t, "UNSIGNED ")
	switch t {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT", "INT2", "INT4", "INT8", "YEAR":
		return true
	}
	return false
}

func isFloatType(t string) bool {
	switch t {
	case "DECIMAL", "NUMERIC", "DOUBLE", "FLOAT", "REAL", "DOUBLE PRECISION":
		return true
	}
	return false
}

func isBinaryType(t string) bool {
	switch t {
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BIT", "GEOMETRY":
		return true
	}
	return false
}

// columnType keeps the declared type when the backend reports one; computed
// columns in SQLite have none, so the first non-null value decides.
func columnType(dbType string, col int, rows [][]any) string {
	if dbType != "" {
		return dbType
	}
	for _, row := range rows {
		if row[col] != nil {
			return result.TypeOf(row[col])
		}
	}
	return "NULL"
}

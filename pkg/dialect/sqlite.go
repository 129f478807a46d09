package dialect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"modernc.org/sqlite"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
)

// shuffleFunc is the SQL name of Shuffle on SQLite connections.
const shuffleFunc = "verdict_shuffle"

func init() {
	err := sqlite.RegisterDeterministicScalarFunction(shuffleFunc, 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			n, ok := args[0].(int64)
			if !ok {
				return nil, fmt.Errorf("%s: integer argument required, got %T", shuffleFunc, args[0])
			}
			return Shuffle(n), nil
		})
	if err != nil {
		panic(err)
	}
}

// Pragmas for better performance
var filePragmas = []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"}

// SQLite has no CREATE SCHEMA; schemas are attached databases. Each schema is
// the file <SchemaDir>/<schema>.db and is re-attached on Init. SchemaDir
// defaults to <Path>.schemas next to a file database; in-memory databases
// attach in-memory schemas.
type SQLite struct {
	path      string
	schemaDir string
}

func NewSQLite(b config.Backend) *SQLite {
	dir := b.SchemaDir
	if dir == "" && !isMemory(b.Path) {
		dir = b.Path + ".schemas"
	}
	return &SQLite{path: b.Path, schemaDir: dir}
}

func isMemory(path string) bool {
	return path == "" || path == ":memory:" ||
		strings.HasPrefix(path, "file::memory:") || strings.Contains(path, "mode=memory")
}

// SchemaDir is where schema files live, empty for in-memory schemas.
func (d *SQLite) SchemaDir() string { return d.schemaDir }

func (d *SQLite) Name() string       { return string(config.KindSQLite) }
func (d *SQLite) DriverName() string { return "sqlite" }
func (d *SQLite) DSN() string        { return d.path }

func (d *SQLite) Init(ctx context.Context, db *sql.DB) error {
	// attached databases are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if !isMemory(d.path) {
		for _, pragma := range filePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				log.WithError(err).WithField("pragma", pragma).Debug("pragma not applied")
			}
		}
	}
	if d.schemaDir == "" {
		return nil
	}
	if err := os.MkdirAll(d.schemaDir, 0o755); err != nil {
		return fmt.Errorf("failed to create schema dir: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(d.schemaDir, "*.db"))
	if err != nil {
		return err
	}
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), ".db")
		if _, err := db.ExecContext(ctx, "ATTACH DATABASE ? AS "+d.QuoteIdent(name), f); err != nil {
			return d.Classify(err)
		}
		log.WithField("schema", name).Debug("attached schema")
	}
	return nil
}

func (d *SQLite) Translate(ctx context.Context, q Querier, stmt string) ([]Step, error) {
	stmt = Normalize(stmt)

	if m := createSchemaRe.FindStringSubmatch(stmt); m != nil {
		name := Unquote(m[2])
		exists, err := d.schemaAttached(ctx, q, name)
		if err != nil {
			return nil, err
		}
		if exists {
			if m[1] != "" {
				return nil, nil
			}
			return nil, errdefs.Newf(errdefs.ErrObjectAlreadyExists, "schema %s already exists", name)
		}
		return []Step{{SQL: "ATTACH DATABASE ? AS " + d.QuoteIdent(name), Args: []any{d.schemaFile(name)}}}, nil
	}

	if m := dropSchemaRe.FindStringSubmatch(stmt); m != nil {
		name := Unquote(m[2])
		exists, err := d.schemaAttached(ctx, q, name)
		if err != nil {
			return nil, err
		}
		if !exists {
			if m[1] != "" {
				return nil, nil
			}
			return nil, errdefs.Newf(errdefs.ErrObjectNotFound, "schema %s does not exist", name)
		}
		return d.dropSchemaSteps(ctx, q, name)
	}

	if showSchemasRe.MatchString(stmt) {
		return single("SELECT name AS schema_name FROM pragma_database_list ORDER BY seq"), nil
	}

	if m := showTablesRe.FindStringSubmatch(stmt); m != nil {
		schema := "main"
		if m[1] != "" {
			schema = Unquote(m[1])
		}
		return single(fmt.Sprintf(
			"SELECT name AS table_name FROM %s.sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%%' ORDER BY name",
			d.QuoteIdent(schema))), nil
	}

	if m := describeRe.FindStringSubmatch(stmt); m != nil {
		schema := "main"
		if m[1] != "" {
			schema = Unquote(m[1])
		}
		return []Step{{
			SQL:  "SELECT name AS column_name, type AS column_type FROM pragma_table_info(?, ?) ORDER BY cid",
			Args: []any{Unquote(m[2]), schema},
		}}, nil
	}

	return single(stmt), nil
}

func (d *SQLite) dropSchemaSteps(ctx context.Context, q Querier, name string) ([]Step, error) {
	var steps []Step
	if d.schemaDir != "" {
		rows, err := q.QueryContext(ctx, fmt.Sprintf(
			"SELECT type, name FROM %s.sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%%'",
			d.QuoteIdent(name)))
		if err != nil {
			return nil, d.Classify(err)
		}
		for rows.Next() {
			var kind, table string
			if err := rows.Scan(&kind, &table); err != nil {
				rows.Close()
				return nil, err
			}
			steps = append(steps, Step{SQL: fmt.Sprintf("DROP %s IF EXISTS %s", strings.ToUpper(kind), Qualified(d, name, table))})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	detach := Step{SQL: "DETACH DATABASE " + d.QuoteIdent(name)}
	if d.schemaDir != "" {
		file := d.schemaFile(name)
		detach.After = func() error {
			if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		}
	}
	return append(steps, detach), nil
}

func (d *SQLite) schemaAttached(ctx context.Context, q Querier, name string) (bool, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_database_list")
	if err != nil {
		return false, d.Classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
		if strings.EqualFold(n, name) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (d *SQLite) schemaFile(name string) string {
	if d.schemaDir == "" {
		return ":memory:"
	}
	return filepath.Join(d.schemaDir, name+".db")
}

func (d *SQLite) Classify(err error) error {
	if err == nil || errdefs.Kind(err) != nil {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, sql.ErrConnDone),
		strings.Contains(msg, "database is closed"),
		strings.Contains(msg, "unable to open database"):
		return errdefs.Wrap(errdefs.ErrConnection, err)
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such view"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "no such database"),
		strings.Contains(msg, "unknown database"):
		return errdefs.Wrap(errdefs.ErrObjectNotFound, err)
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "is already in use"):
		return errdefs.Wrap(errdefs.ErrObjectAlreadyExists, err)
	case strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "incomplete input"),
		strings.Contains(msg, "unrecognized token"):
		return errdefs.Wrap(errdefs.ErrSyntax, err)
	}
	return err
}

func (d *SQLite) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *SQLite) QuoteString(s string) string { return quoteString(s) }

func (d *SQLite) ShuffleKey(expr string) string {
	return shuffleFunc + "(" + expr + ")"
}

func (d *SQLite) BlockIDExpr(blockSize int64, order string) string {
	return fmt.Sprintf("((ROW_NUMBER() OVER (ORDER BY %s)) - 1) / %d", order, blockSize)
}

func (d *SQLite) SamplePredicate(ratio float64) string {
	return fmt.Sprintf("(abs(random())/9223372036854775807.0) < %s", formatRatio(ratio))
}

func (d *SQLite) TableExists(ctx context.Context, q Querier, schema, table string) (bool, error) {
	if schema == "" {
		schema = "main"
	}
	attached, err := d.schemaAttached(ctx, q, schema)
	if err != nil || !attached {
		return false, err
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		"SELECT count(*) FROM %s.sqlite_master WHERE type IN ('table','view') AND name = ? COLLATE NOCASE",
		d.QuoteIdent(schema)), table)
	if err != nil {
		return false, d.Classify(err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, rows.Err()
}

func (d *SQLite) MetaTable(name string) string { return `"main".` + d.QuoteIdent(name) }
func (d *SQLite) MetaSchemaDDL() []string      { return nil }
func (d *SQLite) KeyType() string              { return "TEXT" }
func (d *SQLite) BlobType() string             { return "BLOB" }

package dialect

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
)

func openSQLite(t *testing.T, b config.Backend) (*SQLite, *sql.DB) {
	t.Helper()
	d := NewSQLite(b)
	db, err := sql.Open(d.DriverName(), d.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, d.Init(context.Background(), db))
	return d, db
}

func run(t *testing.T, d Dialect, db *sql.DB, stmt string) error {
	t.Helper()
	ctx := context.Background()
	steps, err := d.Translate(ctx, db, stmt)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if _, err := db.ExecContext(ctx, s.SQL, s.Args...); err != nil {
			return d.Classify(err)
		}
		if s.After != nil {
			require.NoError(t, s.After())
		}
	}
	return nil
}

func TestSQLiteSchemaLifecycle(t *testing.T) {
	d, db := openSQLite(t, config.SQLite(":memory:"))
	ctx := context.Background()

	require.NoError(t, run(t, d, db, "CREATE SCHEMA IF NOT EXISTS s1"))
	require.NoError(t, run(t, d, db, "CREATE SCHEMA IF NOT EXISTS s1"))
	assert.ErrorIs(t, run(t, d, db, "CREATE SCHEMA s1"), errdefs.ErrObjectAlreadyExists)

	require.NoError(t, run(t, d, db, "CREATE TABLE s1.t (intCol INTEGER)"))
	ok, err := d.TableExists(ctx, db, "s1", "t")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, run(t, d, db, "DROP SCHEMA IF EXISTS s1 CASCADE;"))
	ok, err = d.TableExists(ctx, db, "s1", "t")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, run(t, d, db, "DROP SCHEMA IF EXISTS s1"))
	assert.ErrorIs(t, run(t, d, db, "DROP SCHEMA s1"), errdefs.ErrObjectNotFound)
}

func TestSQLiteSchemaDirPersists(t *testing.T) {
	dir := t.TempDir()
	b := config.SQLite(filepath.Join(dir, "main.sqlite"))
	b.SchemaDir = filepath.Join(dir, "schemas")

	d, db := openSQLite(t, b)
	require.NoError(t, run(t, d, db, "CREATE SCHEMA sales"))
	require.NoError(t, run(t, d, db, "CREATE TABLE sales.orders (id INTEGER)"))
	require.NoError(t, db.Close())

	d2, db2 := openSQLite(t, b)
	ok, err := d2.TableExists(context.Background(), db2, "sales", "orders")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, run(t, d2, db2, "DROP SCHEMA sales"))
	assert.NoFileExists(t, filepath.Join(b.SchemaDir, "sales.db"))
}

func TestSQLiteDefaultSchemaDir(t *testing.T) {
	assert.Empty(t, NewSQLite(config.SQLite(":memory:")).SchemaDir())

	b := config.SQLite(filepath.Join(t.TempDir(), "main.sqlite"))
	assert.Equal(t, b.Path+".schemas", NewSQLite(b).SchemaDir())

	d, db := openSQLite(t, b)
	require.NoError(t, run(t, d, db, "CREATE SCHEMA sales"))
	require.NoError(t, run(t, d, db, "CREATE TABLE sales.orders (id INTEGER)"))
	require.NoError(t, db.Close())
	assert.FileExists(t, filepath.Join(b.Path+".schemas", "sales.db"))

	d2, db2 := openSQLite(t, b)
	ok, err := d2.TableExists(context.Background(), db2, "sales", "orders")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLitePragmas(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()
	level := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	defer log.SetLevel(level)
	saved := filePragmas
	filePragmas = append([]string{"PRAGMA journal_mode=("}, saved...)
	defer func() { filePragmas = saved }()

	_, db := openSQLite(t, config.SQLite(filepath.Join(t.TempDir(), "main.sqlite")))
	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var failed []string
	for _, e := range hook.AllEntries() {
		if e.Message == "pragma not applied" {
			failed = append(failed, e.Data["pragma"].(string))
		}
	}
	assert.Equal(t, []string{"PRAGMA journal_mode=("}, failed)
}

func TestShuffle(t *testing.T) {
	seen := map[int64]bool{}
	for n := int64(1); n <= 10000; n++ {
		k := Shuffle(n)
		assert.GreaterOrEqual(t, k, int64(0))
		seen[k] = true
	}
	assert.Len(t, seen, 10000)
	assert.Equal(t, Shuffle(42), Shuffle(42))

	d, db := openSQLite(t, config.SQLite(":memory:"))
	var got int64
	require.NoError(t, db.QueryRow("SELECT "+d.ShuffleKey("42")).Scan(&got))
	assert.Equal(t, Shuffle(42), got)
}

func TestSQLiteShowStatements(t *testing.T) {
	d, db := openSQLite(t, config.SQLite(":memory:"))
	ctx := context.Background()
	require.NoError(t, run(t, d, db, "CREATE SCHEMA s"))
	require.NoError(t, run(t, d, db, "CREATE TABLE s.t (a INTEGER, b TEXT)"))

	steps, err := d.Translate(ctx, db, "show schemas")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Contains(t, steps[0].SQL, "pragma_database_list")

	steps, err = d.Translate(ctx, db, "SHOW TABLES IN s")
	require.NoError(t, err)
	assert.Contains(t, steps[0].SQL, `"s".sqlite_master`)

	steps, err = d.Translate(ctx, db, "DESCRIBE s.t")
	require.NoError(t, err)
	assert.Equal(t, []any{"t", "s"}, steps[0].Args)

	rows, err := db.QueryContext(ctx, steps[0].SQL, steps[0].Args...)
	require.NoError(t, err)
	var cols []string
	for rows.Next() {
		var name, typ string
		require.NoError(t, rows.Scan(&name, &typ))
		cols = append(cols, name)
	}
	rows.Close()
	assert.Equal(t, []string{"a", "b"}, cols)

	steps, err = d.Translate(ctx, db, "select 1;")
	require.NoError(t, err)
	assert.Equal(t, "select 1", steps[0].SQL)
}

func TestSQLiteClassify(t *testing.T) {
	d, db := openSQLite(t, config.SQLite(":memory:"))
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "SELECT * FROM nope")
	assert.ErrorIs(t, d.Classify(err), errdefs.ErrObjectNotFound)

	_, err = db.ExecContext(ctx, "SELEC 1")
	assert.ErrorIs(t, d.Classify(err), errdefs.ErrSyntax)

	_, err = db.ExecContext(ctx, "SELECT * FROM ghost.t")
	assert.ErrorIs(t, d.Classify(err), errdefs.ErrObjectNotFound)

	_, err = db.ExecContext(ctx, "CREATE TABLE x (a INTEGER)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "CREATE TABLE x (a INTEGER)")
	assert.ErrorIs(t, d.Classify(err), errdefs.ErrObjectAlreadyExists)

	db.Close()
	_, err = db.ExecContext(ctx, "SELECT 1")
	assert.ErrorIs(t, d.Classify(err), errdefs.ErrConnection)
}

func TestMySQLClassify(t *testing.T) {
	d := NewMySQL(config.MySQL("localhost", 3306, "root", "", ""))

	cases := map[uint16]error{
		1146: errdefs.ErrObjectNotFound,
		1049: errdefs.ErrObjectNotFound,
		1050: errdefs.ErrObjectAlreadyExists,
		1064: errdefs.ErrSyntax,
		1045: errdefs.ErrConnection,
	}
	for code, kind := range cases {
		err := d.Classify(&gomysql.MySQLError{Number: code, Message: "boom"})
		assert.ErrorIs(t, err, kind, "code %d", code)
	}

	plain := errors.New("deadlock")
	assert.Equal(t, plain, d.Classify(plain))
	assert.ErrorIs(t, d.Classify(gomysql.ErrInvalidConn), errdefs.ErrConnection)
}

func TestMySQLExpressions(t *testing.T) {
	d := NewMySQL(config.MySQL("db", 3307, "u", "p", "tpch"))

	assert.Contains(t, d.DSN(), "u:p@tcp(db:3307)/tpch")
	assert.Equal(t, "`a``b`", d.QuoteIdent("a`b"))
	assert.Equal(t, `'it''s \\'`, d.QuoteString(`it's \`))
	assert.Equal(t, "((ROW_NUMBER() OVER (ORDER BY k, r)) - 1) DIV 100", d.BlockIDExpr(100, "k, r"))
	assert.Contains(t, d.ShuffleKey("r"), "MD5(r)")
	assert.Equal(t, "`verdictdbmeta`.`verdict_scrambles`", d.MetaTable("verdict_scrambles"))
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsDrop("drop table s.t"))
	assert.True(t, IsDrop(" DROP SCHEMA IF EXISTS s;"))
	assert.False(t, IsDrop("DROP SCRAMBLE s.t_scrambled"))
	assert.False(t, IsDrop("SELECT 1"))
	assert.True(t, IsConditionalDDL("DROP TABLE IF EXISTS s.t"))
	assert.True(t, IsConditionalDDL("create schema if not exists s;"))
	assert.False(t, IsConditionalDDL("DROP TABLE s.t"))
	assert.False(t, IsConditionalDDL("SELECT 'if exists'"))

	assert.True(t, ReturnsRows("  select 1"))
	assert.True(t, ReturnsRows("(SELECT 1)"))
	assert.True(t, ReturnsRows("show schemas"))
	assert.False(t, ReturnsRows("insert into t values (1)"))

	assert.Equal(t, "a b", Unquote("`a b`"))
	assert.Equal(t, "x", Unquote(`"x"`))
	assert.Equal(t, `"s"."t"`, Qualified(NewSQLite(config.SQLite("")), "s", "t"))
}

// Package verdicttest provides a per-test session over a private schema.
package verdicttest

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"
	"github.com/sahithikokkula/verdict-aqe/pkg/verdict"
)

// MySQLHostEnv names the variable that enables tests against a MySQL server.
const MySQLHostEnv = "VERDICT_TEST_MYSQL_HOST"

// Fixture owns a uniquely named schema. The schema is dropped through the
// session when the test finishes, and a scramble whose metadata survives the
// drop fails the test.
type Fixture struct {
	*verdict.Context
	Schema string
	t      testing.TB
}

// New opens an in-memory SQLite session.
func New(t testing.TB) *Fixture {
	return NewWith(t, config.SQLite(":memory:"), config.DefaultOptions())
}

// MySQL opens a session on the server named by VERDICT_TEST_MYSQL_HOST and
// skips the test when it is unset.
func MySQL(t testing.TB) *Fixture {
	host := os.Getenv(MySQLHostEnv)
	if host == "" {
		t.Skipf("%s not set", MySQLHostEnv)
	}
	port, _ := strconv.Atoi(os.Getenv("VERDICT_TEST_MYSQL_PORT"))
	user := os.Getenv("VERDICT_TEST_MYSQL_USER")
	if user == "" {
		user = "root"
	}
	b := config.MySQL(host, port, user, os.Getenv("VERDICT_TEST_MYSQL_PASSWORD"), "")
	return NewWith(t, b, config.DefaultOptions())
}

func NewWith(t testing.TB, b config.Backend, opts config.Options) *Fixture {
	t.Helper()
	ctx := context.Background()
	vc, err := verdict.Open(ctx, b, opts)
	require.NoError(t, err)

	f := &Fixture{
		Context: vc,
		Schema:  "verdict_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		t:       t,
	}
	t.Cleanup(f.teardown)
	f.MustSQL("CREATE SCHEMA " + f.Schema)
	return f
}

func (f *Fixture) teardown() {
	ctx := context.Background()
	if _, err := f.SQL(ctx, "DROP SCHEMA IF EXISTS "+f.Schema); err != nil {
		f.t.Logf("failed to drop schema %s: %v", f.Schema, err)
	}
	if ms, err := f.Builder().List(ctx); err == nil {
		for _, m := range ms {
			if strings.EqualFold(m.Schema, f.Schema) {
				f.t.Errorf("scramble %s outlived its schema", m.Name())
			}
		}
	}
	if err := f.Close(); err != nil {
		f.t.Logf("failed to close session: %v", err)
	}
}

// Table qualifies name with the fixture's schema.
func (f *Fixture) Table(name string) string {
	return f.Schema + "." + name
}

// MustSQL runs a statement through the session and fails the test on error.
func (f *Fixture) MustSQL(sql string) *result.Result {
	f.t.Helper()
	res, err := f.SQL(context.Background(), sql)
	require.NoError(f.t, err, sql)
	return res
}

// Sprintf formats sql with each table qualified by the fixture's schema.
func (f *Fixture) Sprintf(format string, tables ...string) string {
	args := make([]any, len(tables))
	for i, t := range tables {
		args[i] = f.Table(t)
	}
	return fmt.Sprintf(format, args...)
}

// LoadInts creates table(intCol INTEGER) holding 0..n-1.
func (f *Fixture) LoadInts(table string, n int) {
	f.t.Helper()
	f.MustSQL(fmt.Sprintf("CREATE TABLE %s (intCol INTEGER)", f.Table(table)))
	const batch = 500
	for lo := 0; lo < n; lo += batch {
		hi := lo + batch
		if hi > n {
			hi = n
		}
		values := make([]string, 0, hi-lo)
		for i := lo; i < hi; i++ {
			values = append(values, fmt.Sprintf("(%d)", i))
		}
		f.MustSQL(fmt.Sprintf("INSERT INTO %s VALUES %s", f.Table(table), strings.Join(values, ", ")))
	}
}

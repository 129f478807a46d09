package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahithikokkula/verdict-aqe/pkg/estimator"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"
)

type cli struct {
	t    *testing.T
	db   string
	base []string
}

// newCLI runs every command against the same sqlite file. Schemas land in the
// default directory next to it.
func newCLI(t *testing.T) *cli {
	db := filepath.Join(t.TempDir(), "main.db")
	return &cli{t: t, db: db, base: []string{
		"--backend", "sqlite",
		"--db", db,
		"--meta-store", "sql",
	}}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, c.base...))
	err := root.Execute()
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func TestWorkflow(t *testing.T) {
	c := newCLI(t)
	c.mustRun("seed", "--schema", "S", "--rows", "1000")

	out := c.mustRun("query", "--exact", "SELECT count(*) AS c FROM S.T")
	assert.Equal(t, "c\n1000\n(1 rows)\n", out)

	out = c.mustRun("scramble", "create", "--size", "100", "S.T")
	assert.Contains(t, out, "T_scrambled")

	out = c.mustRun("scramble", "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "S\tT_scrambled\tS\tT\tuniform\t100\t10\t1\t1000", lines[1])

	out = c.mustRun("query", "--intervals", "SELECT count(*) AS c FROM S.T")
	assert.Contains(t, out, "c\n1000\n")
	assert.Contains(t, out, "approximate from")
	assert.Contains(t, out, "10/10 blocks")
	assert.Contains(t, out, "c: 1,000")

	out = c.mustRun("query", "--explain", "SELECT avg(intCol) FROM S.T")
	assert.Contains(t, out, `"type": "sample"`)

	out = c.mustRun("compare", "SELECT avg(intCol) AS a, sum(intCol) AS s FROM S.T")
	assert.Contains(t, out, "within [0.8, 1.2]")

	c.mustRun("scramble", "drop", "S.T_scrambled")
	_, err := c.run("scramble", "drop", "S.T_scrambled")
	assert.Error(t, err)
	c.mustRun("scramble", "drop", "--if-exists", "S.T_scrambled")

	out = c.mustRun("query", "--explain", "SELECT avg(intCol) FROM S.T")
	assert.Contains(t, out, `"type": "exact"`)
}

func TestSchemasOutliveTheProcess(t *testing.T) {
	t.Setenv("VERDICT_SCHEMA_DIR", "")
	c := newCLI(t)
	c.mustRun("seed", "--schema", "S", "--rows", "10")
	assert.FileExists(t, filepath.Join(c.db+".schemas", "S.db"))

	out := c.mustRun("query", "--exact", "SELECT count(*) AS c FROM S.T")
	assert.Equal(t, "c\n10\n(1 rows)\n", out)
}

func TestSeedPurchases(t *testing.T) {
	c := newCLI(t)
	c.mustRun("seed", "--schema", "S", "--rows", "10", "--purchases", "200")

	out := c.mustRun("query", "SELECT count(*) AS n, count(DISTINCT country) AS k FROM S.purchases")
	assert.Equal(t, "n\tk\n200\t10\n(1 rows)\n", out)

	// reseeding replaces the tables
	c.mustRun("seed", "--schema", "S", "--rows", "5")
	out = c.mustRun("query", "SELECT count(*) AS c FROM S.T")
	assert.Equal(t, "c\n5\n(1 rows)\n", out)
}

func TestCompareMismatch(t *testing.T) {
	c := newCLI(t)
	c.mustRun("seed", "--schema", "S", "--rows", "1000")
	c.mustRun("scramble", "create", "--size", "100", "S.T")

	_, err := c.run("compare", "--lower", "1.5", "--upper", "2", "SELECT count(*) AS c FROM S.T")
	require.Error(t, err)
	assert.ErrorIs(t, err, result.ErrMismatch)
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, result.Empty(), false)
	assert.Equal(t, "OK\n", buf.String())

	buf.Reset()
	res := result.New(
		[]result.Column{{Name: "g", Type: "VARCHAR"}, {Name: "v", Type: "DOUBLE"}},
		[][]any{{"a", 1.5}, {nil, []byte("x")}},
	).WithApproximation(&result.Approximation{
		Scramble:      "s.t_scrambled",
		SamplingRatio: 0.25,
		ScannedBlocks: 1,
		TotalBlocks:   4,
		Intervals: map[string]estimator.CIResult{
			"v": {Estimate: 1234.5, Lower: 1000, Upper: 1469, ConfidenceLevel: 0.95},
		},
	})
	printResult(&buf, res, true)
	assert.Equal(t, "g\tv\na\t1.5\nNULL\tx\n"+
		"(2 rows, approximate from s.t_scrambled, 1/4 blocks, sampling ratio 0.25)\n"+
		"v: 1,234.5 [1,000, 1,469] at 95%\n", buf.String())
}

package planner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/dialect"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
	"github.com/sahithikokkula/verdict-aqe/pkg/sqlast"
	"github.com/sahithikokkula/verdict-aqe/pkg/storage"
)

func scrambleMeta(table string, relative float64) *storage.ScrambleMeta {
	return &storage.ScrambleMeta{
		Schema:         "s",
		Table:          table,
		OriginalSchema: "s",
		OriginalTable:  "t",
		BlockColumn:    "verdictdbblock",
		BlockSize:      100,
		BlockCount:     10,
		Method:         "uniform",
		RelativeSize:   relative,
		SourceRows:     1000,
		RowCount:       int64(1000 * relative),
		CreatedAt:      time.Unix(1700000000, 0).UTC(),
	}
}

// tables is a catalog holding the named tables.
type tables map[string]bool

func (c tables) TableExists(_ context.Context, schema, table string) (bool, error) {
	return c[strings.ToLower(schema+"."+table)], nil
}

func newPlanner(t *testing.T, opts config.Options, ms ...*storage.ScrambleMeta) *Planner {
	t.Helper()
	p, _ := newPlannerWithCatalog(t, opts, ms...)
	return p
}

func newPlannerWithCatalog(t *testing.T, opts config.Options, ms ...*storage.ScrambleMeta) (*Planner, tables) {
	t.Helper()
	meta, err := storage.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	catalog := tables{}
	for _, m := range ms {
		require.NoError(t, meta.PutScramble(context.Background(), m))
		catalog[m.Name()] = true
	}
	return New(meta, catalog, dialect.NewSQLite(config.SQLite(":memory:")), opts), catalog
}

func TestResolvePrefersLargestScramble(t *testing.T) {
	p := newPlanner(t, config.DefaultOptions(),
		scrambleMeta("t_small", 0.1),
		scrambleMeta("t_b", 1),
		scrambleMeta("t_a", 1),
	)
	ctx := context.Background()

	m, err := p.Resolve(ctx, sqlast.TableName{Schema: "S", Name: "T"})
	require.NoError(t, err)
	assert.Equal(t, "s.t_a", m.Name())

	m, err = p.Resolve(ctx, sqlast.TableName{Schema: "s", Name: "t_small"})
	require.NoError(t, err)
	assert.Equal(t, "s.t_small", m.Name())

	_, err = p.Resolve(ctx, sqlast.TableName{Schema: "s", Name: "u"})
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedQuery)
}

func TestResolveForgetsDroppedScrambles(t *testing.T) {
	p, catalog := newPlannerWithCatalog(t, config.DefaultOptions(),
		scrambleMeta("t_big", 1),
		scrambleMeta("t_small", 0.1),
	)
	ctx := context.Background()
	delete(catalog, "s.t_big")

	m, err := p.Resolve(ctx, sqlast.TableName{Schema: "s", Name: "t"})
	require.NoError(t, err)
	assert.Equal(t, "s.t_small", m.Name())
	_, err = p.meta.GetScramble(ctx, "s", "t_big")
	assert.ErrorIs(t, err, errdefs.ErrObjectNotFound)

	delete(catalog, "s.t_small")
	_, err = p.Resolve(ctx, sqlast.TableName{Schema: "s", Name: "t_small"})
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedQuery)
	_, err = p.Resolve(ctx, sqlast.TableName{Schema: "s", Name: "t"})
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedQuery)

	all, err := p.meta.ListScrambles(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPlanCountMinNeedsMatchingClass(t *testing.T) {
	p := newPlanner(t, config.DefaultOptions(), scrambleMeta("t_scrambled", 1))
	ctx := context.Background()
	data, err := sketches.NewCountMin(0.01, 0.01).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, p.meta.PutSketch(ctx, &storage.SketchInfo{
		Type:       sketches.CountMinSketchType,
		Schema:     "s",
		Table:      "t_scrambled",
		Column:     "code",
		Data:       data,
		Parameters: map[string]any{storage.ClassParameter: string(sketches.ClassText)},
	}))

	plan, err := p.Plan(ctx, "SELECT count(*) FROM s.t WHERE code = '5'")
	require.NoError(t, err)
	assert.Equal(t, PlanSketch, plan.Type)
	assert.Equal(t, "5", plan.SketchValue)

	plan, err = p.Plan(ctx, "SELECT count(*) FROM s.t WHERE code = 5")
	require.NoError(t, err)
	assert.Equal(t, PlanSample, plan.Type)
}

func TestPlanBlockSQL(t *testing.T) {
	p := newPlanner(t, config.DefaultOptions(), scrambleMeta("t_scrambled", 1))

	plan, err := p.Plan(context.Background(),
		"SELECT name, count(*), avg(x) + 1, count(DISTINCT y) FROM s.t WHERE x > 3 GROUP BY name ORDER BY 2 DESC")
	require.NoError(t, err)

	assert.Equal(t, PlanSample, plan.Type)
	assert.Equal(t, 1.0, plan.SampleFraction)
	assert.Equal(t, `SELECT "name" AS "g0", "t"."verdictdbblock" AS "vblock", COUNT(*) AS "vcount", `+
		`COUNT("x") AS "a1_n", SUM("x") AS "a1_s", SUM(((1.0 * "x") * "x")) AS "a1_q" `+
		`FROM "s"."t_scrambled" "t" WHERE ("x" > 3) GROUP BY "name", "t"."verdictdbblock"`, plan.SQL)

	require.Len(t, plan.Aggregates, 3)
	assert.Equal(t, 2, plan.Aggregates[0].Count)
	assert.Equal(t, 3, plan.Aggregates[1].Count)
	assert.Contains(t, plan.Aggregates[2].FrequencySQL, `("y" IS NOT NULL)`)

	assert.Equal(t, 0, plan.Outputs[0].Group)
	assert.Equal(t, 0, plan.Outputs[1].Agg)
	assert.Equal(t, -1, plan.Outputs[2].Agg)
	assert.Equal(t, []OrderKey{{Column: 1, Desc: true}}, plan.Order)
}

func TestPlanLimitsScannedBlocks(t *testing.T) {
	opts := config.DefaultOptions()
	opts.ScanBlocks = 3
	p := newPlanner(t, opts, scrambleMeta("t_scrambled", 0.5))

	plan, err := p.Plan(context.Background(), "SELECT sum(x) FROM s.t")
	require.NoError(t, err)
	assert.Equal(t, int64(3), plan.ScannedBlocks)
	assert.InDelta(t, 0.5*300/500, plan.SampleFraction, 1e-12)
	assert.Contains(t, plan.SQL, `WHERE ("t"."verdictdbblock" < 3)`)
}

func TestPlanSharesAggregates(t *testing.T) {
	p := newPlanner(t, config.DefaultOptions(), scrambleMeta("t_scrambled", 1))

	plan, err := p.Plan(context.Background(), "SELECT sum(x), SUM(x) / count(*), count(*) FROM s.t")
	require.NoError(t, err)
	assert.Len(t, plan.Aggregates, 2)
}

func TestPlanRejects(t *testing.T) {
	p := newPlanner(t, config.DefaultOptions(), scrambleMeta("t_scrambled", 1))

	for _, q := range []string{
		"SELECT x FROM s.t",
		"SELECT x, count(*) FROM s.t",
		"SELECT variance(x) FROM s.t",
		"SELECT sum(DISTINCT x) FROM s.t",
		"SELECT count(*) FROM s.t GROUP BY 2",
		"SELECT count(*) FROM s.t ORDER BY x",
		"SELECT count(*) FROM s.t WHERE sum(x) > 1",
		"SELECT abs(sum(x)) FROM s.t",
		"SELECT max(x) FROM s.t, s.u",
	} {
		_, err := p.Plan(context.Background(), q)
		assert.ErrorIs(t, err, errdefs.ErrUnsupportedQuery, q)
	}
}

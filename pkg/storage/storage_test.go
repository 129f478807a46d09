package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/dialect"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
)

func sqlStore(t *testing.T) MetaStore {
	t.Helper()
	d := dialect.NewSQLite(config.SQLite(":memory:"))
	db, err := sql.Open(d.DriverName(), d.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, d.Init(context.Background(), db))

	ms, err := NewSQLStore(context.Background(), db, d)
	require.NoError(t, err)
	return ms
}

func badgerStore(t *testing.T) MetaStore {
	t.Helper()
	ms, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { ms.Close() })
	return ms
}

func cachedStore(t *testing.T) MetaStore {
	t.Helper()
	ms, err := NewCached(sqlStore(t))
	require.NoError(t, err)
	return ms
}

var stores = map[string]func(t *testing.T) MetaStore{
	"sql":    sqlStore,
	"badger": badgerStore,
	"cached": cachedStore,
}

func testMeta(schema, table string) *ScrambleMeta {
	return &ScrambleMeta{
		Schema:         schema,
		Table:          table,
		OriginalSchema: schema,
		OriginalTable:  "t",
		BlockColumn:    "verdictdbblock",
		BlockSize:      100,
		BlockCount:     10,
		Method:         "uniform",
		RelativeSize:   1,
		SourceRows:     1000,
		RowCount:       1000,
		CreatedAt:      time.Unix(1700000000, 0).UTC(),
	}
}

func TestScrambleMetadata(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ms := open(t)

			_, err := ms.GetScramble(ctx, "s", "t_scrambled")
			assert.ErrorIs(t, err, errdefs.ErrObjectNotFound)

			m := testMeta("s", "t_scrambled")
			require.NoError(t, ms.PutScramble(ctx, m))
			require.NoError(t, ms.PutScramble(ctx, testMeta("a", "first")))

			got, err := ms.GetScramble(ctx, "S", "T_SCRAMBLED")
			require.NoError(t, err)
			assert.Equal(t, m, got)
			assert.True(t, got.IsScrambleOf("s", "T"))
			assert.Equal(t, "s.t_scrambled", got.Name())

			updated := testMeta("s", "t_scrambled")
			updated.BlockSize = 50
			require.NoError(t, ms.PutScramble(ctx, updated))

			list, err := ms.ListScrambles(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a.first", list[0].Name())
			assert.Equal(t, int64(50), list[1].BlockSize)

			require.NoError(t, ms.DeleteScramble(ctx, "s", "t_scrambled"))
			assert.ErrorIs(t, ms.DeleteScramble(ctx, "s", "t_scrambled"), errdefs.ErrObjectNotFound)
			_, err = ms.GetScramble(ctx, "s", "t_scrambled")
			assert.ErrorIs(t, err, errdefs.ErrObjectNotFound)
		})
	}
}

func TestSketchMetadata(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ms := open(t)

			hll := sketches.NewHyperLogLog(12)
			for _, v := range []string{"a", "b", "c"} {
				hll.Observe(v)
			}
			data, err := hll.MarshalBinary()
			require.NoError(t, err)
			cm, err := sketches.NewCountMin(0.01, 0.01).MarshalBinary()
			require.NoError(t, err)
			info := &SketchInfo{
				Type:       sketches.HyperLogLogType,
				Schema:     "s",
				Table:      "t_scrambled",
				Column:     "name",
				Data:       data,
				Parameters: map[string]any{"precision": float64(12)},
				CreatedAt:  time.Unix(1700000000, 0).UTC(),
			}
			require.NoError(t, ms.PutSketch(ctx, info))
			require.NoError(t, ms.PutSketch(ctx, &SketchInfo{
				Type:      sketches.CountMinSketchType,
				Schema:    "s",
				Table:     "t_scrambled",
				Column:    "name",
				Data:      cm,
				CreatedAt: time.Unix(1700000000, 0).UTC(),
			}))

			got, err := ms.GetSketch(ctx, "s", "t_scrambled", "NAME", sketches.HyperLogLogType)
			require.NoError(t, err)
			assert.Equal(t, info.Data, got.Data)
			assert.Equal(t, float64(12), got.Parameters["precision"])

			sk, err := got.Decode()
			require.NoError(t, err)
			assert.InDelta(t, 3, float64(sk.(sketches.Cardinality).Estimate()), 1)

			list, err := ms.ListSketches(ctx, "s", "t_scrambled")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, sketches.CountMinSketchType, list[0].Type)

			_, err = ms.GetSketch(ctx, "s", "t_scrambled", "other", sketches.HyperLogLogType)
			assert.ErrorIs(t, err, errdefs.ErrObjectNotFound)

			require.NoError(t, ms.DeleteSketches(ctx, "s", "t_scrambled"))
			list, err = ms.ListSketches(ctx, "s", "t_scrambled")
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestOpenSelectsStore(t *testing.T) {
	opts := config.DefaultOptions()
	opts.MetaStore = config.MetaStoreBadger
	opts.CacheMetadata = false

	ms, err := Open(context.Background(), opts, nil, nil)
	require.NoError(t, err)
	defer ms.Close()
	assert.IsType(t, &BadgerStore{}, ms)
}

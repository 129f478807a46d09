package storage

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"

	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
)

// Cached serves scramble and sketch lookups from memory. ristretto applies
// writes asynchronously, so entries are keyed by a generation number that every
// mutation bumps; stale entries simply stop being addressed.
type Cached struct {
	MetaStore
	cache *ristretto.Cache
	gen   uint64
}

func NewCached(ms MetaStore) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 26,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{MetaStore: ms, cache: cache}, nil
}

func (c *Cached) cacheKey(kind, k string) string {
	return strconv.FormatUint(atomic.LoadUint64(&c.gen), 10) + "/" + kind + "/" + k
}

func (c *Cached) invalidate() {
	atomic.AddUint64(&c.gen, 1)
}

func (c *Cached) GetScramble(ctx context.Context, schema, table string) (*ScrambleMeta, error) {
	k := c.cacheKey("scramble", key(schema, table))
	if v, found := c.cache.Get(k); found {
		return v.(*ScrambleMeta), nil
	}
	m, err := c.MetaStore.GetScramble(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	c.cache.Set(k, m, 1)
	return m, nil
}

func (c *Cached) ListScrambles(ctx context.Context) ([]*ScrambleMeta, error) {
	k := c.cacheKey("scrambles", "")
	if v, found := c.cache.Get(k); found {
		return v.([]*ScrambleMeta), nil
	}
	ms, err := c.MetaStore.ListScrambles(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(k, ms, int64(len(ms)+1))
	return ms, nil
}

func (c *Cached) GetSketch(ctx context.Context, schema, table, column string, t sketches.SketchType) (*SketchInfo, error) {
	k := c.cacheKey("sketch", string(sketchKey(schema, table, column, t)))
	if v, found := c.cache.Get(k); found {
		return v.(*SketchInfo), nil
	}
	s, err := c.MetaStore.GetSketch(ctx, schema, table, column, t)
	if err != nil {
		return nil, err
	}
	c.cache.Set(k, s, int64(len(s.Data)+1))
	return s, nil
}

func (c *Cached) PutScramble(ctx context.Context, m *ScrambleMeta) error {
	defer c.invalidate()
	return c.MetaStore.PutScramble(ctx, m)
}

func (c *Cached) DeleteScramble(ctx context.Context, schema, table string) error {
	defer c.invalidate()
	return c.MetaStore.DeleteScramble(ctx, schema, table)
}

func (c *Cached) PutSketch(ctx context.Context, s *SketchInfo) error {
	defer c.invalidate()
	return c.MetaStore.PutSketch(ctx, s)
}

func (c *Cached) DeleteSketches(ctx context.Context, schema, table string) error {
	defer c.invalidate()
	return c.MetaStore.DeleteSketches(ctx, schema, table)
}

func (c *Cached) Close() error {
	c.cache.Close()
	return c.MetaStore.Close()
}

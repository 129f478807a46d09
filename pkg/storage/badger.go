package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/dgraph-io/badger/v2"

	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
)

const (
	scramblePrefix = "scramble/"
	sketchPrefix   = "sketch/"
)

// BadgerStore keeps metadata in an embedded badger database, outside the
// backing store. Values are JSON.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens the database in dir, or an in-memory one when dir is empty.
func OpenBadger(dir string) (*BadgerStore, error) {
	option := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		option = option.WithInMemory(true)
	}
	db, err := badger.Open(option)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (bs *BadgerStore) Close() error {
	return bs.db.Close()
}

func scrambleKey(schema, table string) []byte {
	return []byte(scramblePrefix + key(schema, table))
}

func sketchKey(schema, table, column string, t sketches.SketchType) []byte {
	return []byte(sketchPrefix + key(schema, table) + "/" + strings.ToLower(column) + "/" + string(t))
}

func sketchTablePrefix(schema, table string) []byte {
	return []byte(sketchPrefix + key(schema, table) + "/")
}

func (bs *BadgerStore) txnGet(k []byte, v any) error {
	return bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		buf, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(buf, v)
	})
}

func (bs *BadgerStore) txnPut(k []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, buf)
	})
}

// iterate calls fn with the value of every key under prefix.
func (bs *BadgerStore) iterate(prefix []byte, fn func(k, v []byte) error) error {
	return bs.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iter := txn.NewIterator(iterOpts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			item := iter.Item()
			buf, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (bs *BadgerStore) PutScramble(ctx context.Context, m *ScrambleMeta) error {
	return bs.txnPut(scrambleKey(m.Schema, m.Table), m)
}

func (bs *BadgerStore) GetScramble(ctx context.Context, schema, table string) (*ScrambleMeta, error) {
	var m ScrambleMeta
	if err := bs.txnGet(scrambleKey(schema, table), &m); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, errdefs.Newf(errdefs.ErrObjectNotFound, "scramble %s.%s does not exist", schema, table)
		}
		return nil, err
	}
	return &m, nil
}

func (bs *BadgerStore) ListScrambles(ctx context.Context) ([]*ScrambleMeta, error) {
	var ms []*ScrambleMeta
	err := bs.iterate([]byte(scramblePrefix), func(_, v []byte) error {
		var m ScrambleMeta
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		ms = append(ms, &m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortScrambles(ms)
	return ms, nil
}

func (bs *BadgerStore) DeleteScramble(ctx context.Context, schema, table string) error {
	k := scrambleKey(schema, table)
	return bs.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errdefs.Newf(errdefs.ErrObjectNotFound, "scramble %s.%s does not exist", schema, table)
			}
			return err
		}
		return txn.Delete(k)
	})
}

func (bs *BadgerStore) PutSketch(ctx context.Context, s *SketchInfo) error {
	return bs.txnPut(sketchKey(s.Schema, s.Table, s.Column, s.Type), s)
}

func (bs *BadgerStore) GetSketch(ctx context.Context, schema, table, column string, t sketches.SketchType) (*SketchInfo, error) {
	var s SketchInfo
	if err := bs.txnGet(sketchKey(schema, table, column, t), &s); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, errdefs.Newf(errdefs.ErrObjectNotFound, "no %s sketch on %s.%s(%s)", t, schema, table, column)
		}
		return nil, err
	}
	return &s, nil
}

func (bs *BadgerStore) ListSketches(ctx context.Context, schema, table string) ([]*SketchInfo, error) {
	var ss []*SketchInfo
	err := bs.iterate(sketchTablePrefix(schema, table), func(_, v []byte) error {
		var s SketchInfo
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		ss = append(ss, &s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSketches(ss)
	return ss, nil
}

func (bs *BadgerStore) DeleteSketches(ctx context.Context, schema, table string) error {
	var keys [][]byte
	err := bs.iterate(sketchTablePrefix(schema, table), func(k, _ []byte) error {
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

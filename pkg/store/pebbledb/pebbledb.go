// Package pebbledb is the persistent storage backend, one Pebble keyspace
// holding state records, version records, the event log, and metadata.
package pebbledb

import (
	"bytes"

	"github.com/cockroachdb/pebble"

	"statehouse/pkg/errdef"
	"statehouse/pkg/logger"
	"statehouse/pkg/store"
)

type DB struct {
	db   *pebble.DB
	path string
}

// Open opens (or creates) a Pebble database at path. The Pebble WAL stays
// enabled; batch-level sync is decided per commit by the caller.
func Open(path string) (*DB, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, errdef.Wrapf(errdef.KindStorage, err, "open pebble at %s", path)
	}
	return &DB{db: db, path: path}, nil
}

func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return errdef.Wrap(errdef.KindStorage, err, "close pebble")
	}
	d.db = nil
	logger.Info("pebble_closed", "path", d.path)
	return nil
}

func (d *DB) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := d.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errdef.Wrap(errdef.KindStorage, err, "pebble get")
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		closer.Close()
	}
	return out, true, nil
}

func (d *DB) ApplyBatch(ops []store.BatchOp, sync bool) error {
	b := d.db.NewBatch()
	defer b.Close()
	for _, op := range ops {
		if op.Value == nil {
			if err := b.Delete(op.Key, nil); err != nil {
				return errdef.Wrap(errdef.KindStorage, err, "batch delete")
			}
			continue
		}
		if err := b.Set(op.Key, op.Value, nil); err != nil {
			return errdef.Wrap(errdef.KindStorage, err, "batch set")
		}
	}
	if err := b.Commit(&pebble.WriteOptions{Sync: sync}); err != nil {
		return errdef.Wrap(errdef.KindStorage, err, "batch commit")
	}
	return nil
}

func (d *DB) Flush() error {
	if err := d.db.Flush(); err != nil {
		return errdef.Wrap(errdef.KindStorage, err, "pebble flush")
	}
	return nil
}

func (d *DB) NewPrefixIter(prefix []byte) (store.Iterator, error) {
	iter, err := d.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, errdef.Wrap(errdef.KindStorage, err, "pebble iterator")
	}
	return &pebbleIter{iter: iter, prefix: prefix, seek: prefix}, nil
}

func (d *DB) NewRangeIter(lower, upper []byte) (store.Iterator, error) {
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errdef.Wrap(errdef.KindStorage, err, "pebble iterator")
	}
	return &pebbleIter{iter: iter, seek: lower}, nil
}

type pebbleIter struct {
	iter    *pebble.Iterator
	prefix  []byte
	seek    []byte
	started bool
}

func (it *pebbleIter) Next() bool {
	if !it.started {
		it.started = true
		if !it.iter.SeekGE(it.seek) {
			return false
		}
	} else if !it.iter.Next() {
		return false
	}
	if it.prefix != nil && !bytes.HasPrefix(it.iter.Key(), it.prefix) {
		return false
	}
	return true
}

func (it *pebbleIter) Key() []byte   { return it.iter.Key() }
func (it *pebbleIter) Value() []byte { return it.iter.Value() }

func (it *pebbleIter) Err() error {
	if err := it.iter.Error(); err != nil {
		return errdef.Wrap(errdef.KindStorage, err, "pebble iteration")
	}
	return nil
}

func (it *pebbleIter) Close() error {
	if err := it.iter.Close(); err != nil {
		return errdef.Wrap(errdef.KindStorage, err, "close pebble iterator")
	}
	return nil
}

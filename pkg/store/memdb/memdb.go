// Package memdb is the ephemeral storage backend: a sorted in-memory
// keyspace with the same batch atomicity contract as pebbledb. Used by
// in-memory mode and tests.
package memdb

import (
	"sort"
	"strings"
	"sync"

	"statehouse/pkg/store"
)

type DB struct {
	mu     sync.RWMutex
	data   map[string][]byte
	keys   []string // sorted view of data's keys
	closed bool
}

func Open() *DB {
	return &DB{data: make(map[string][]byte)}
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *DB) Get(key []byte) ([]byte, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (d *DB) ApplyBatch(ops []store.BatchOp, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		k := string(op.Key)
		_, existed := d.data[k]
		if op.Value == nil {
			if existed {
				delete(d.data, k)
				d.dropKey(k)
			}
			continue
		}
		d.data[k] = append([]byte(nil), op.Value...)
		if !existed {
			d.insertKey(k)
		}
	}
	return nil
}

func (d *DB) Flush() error { return nil }

func (d *DB) NewPrefixIter(prefix []byte) (store.Iterator, error) {
	p := string(prefix)
	d.mu.RLock()
	defer d.mu.RUnlock()
	pairs := d.collect(func(k string) bool { return strings.HasPrefix(k, p) }, p)
	return &memIter{pairs: pairs, pos: -1}, nil
}

func (d *DB) NewRangeIter(lower, upper []byte) (store.Iterator, error) {
	lo, hi := string(lower), string(upper)
	d.mu.RLock()
	defer d.mu.RUnlock()
	pairs := d.collect(func(k string) bool { return k < hi }, lo)
	return &memIter{pairs: pairs, pos: -1}, nil
}

type pair struct {
	k string
	v []byte
}

// collect snapshots matching pairs under the read lock, so iteration sees a
// consistent view even while batches land concurrently.
func (d *DB) collect(keep func(string) bool, seek string) []pair {
	i := sort.SearchStrings(d.keys, seek)
	var out []pair
	for ; i < len(d.keys); i++ {
		k := d.keys[i]
		if !keep(k) {
			break
		}
		out = append(out, pair{k: k, v: append([]byte(nil), d.data[k]...)})
	}
	return out
}

func (d *DB) insertKey(k string) {
	i := sort.SearchStrings(d.keys, k)
	d.keys = append(d.keys, "")
	copy(d.keys[i+1:], d.keys[i:])
	d.keys[i] = k
}

func (d *DB) dropKey(k string) {
	i := sort.SearchStrings(d.keys, k)
	if i < len(d.keys) && d.keys[i] == k {
		d.keys = append(d.keys[:i], d.keys[i+1:]...)
	}
}

type memIter struct {
	pairs []pair
	pos   int
}

func (it *memIter) Next() bool {
	it.pos++
	return it.pos < len(it.pairs)
}

func (it *memIter) Key() []byte   { return []byte(it.pairs[it.pos].k) }
func (it *memIter) Value() []byte { return it.pairs[it.pos].v }
func (it *memIter) Err() error    { return nil }
func (it *memIter) Close() error  { return nil }

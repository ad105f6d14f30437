// Package store defines the storage backend contract the engine writes
// through. Two implementations exist: pebbledb (persistent, production) and
// memdb (ephemeral, tests and in-memory mode).
package store

// BatchOp is one write inside an atomic batch. A nil Value deletes the key.
type BatchOp struct {
	Key   []byte
	Value []byte
}

// Iterator walks keys in ascending byte order. Callers must Close it on
// every exit path.
type Iterator interface {
	// Next advances and reports whether a pair is available. The first call
	// positions the iterator on the first pair.
	Next() bool
	// Key returns the current key. Valid only after Next returned true; the
	// slice is owned by the iterator and must be copied to retain.
	Key() []byte
	// Value returns the current value under the same ownership rules as Key.
	Value() []byte
	// Err returns the first iteration error, if any.
	Err() error
	Close() error
}

// Backend is an ordered key-value store with atomic multi-key batches.
type Backend interface {
	// Get returns the value for key, or (nil, false, nil) when absent.
	Get(key []byte) (value []byte, found bool, err error)
	// NewPrefixIter iterates all keys starting with prefix, ascending.
	NewPrefixIter(prefix []byte) (Iterator, error)
	// NewRangeIter iterates keys in [lower, upper), ascending.
	NewRangeIter(lower, upper []byte) (Iterator, error)
	// ApplyBatch applies all ops atomically: after a crash either every op
	// is visible or none is. When sync is true the batch is durable before
	// ApplyBatch returns.
	ApplyBatch(ops []BatchOp, sync bool) error
	// Flush forces buffered writes to durable storage.
	Flush() error
	Close() error
}

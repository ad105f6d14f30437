// Package engine is the transactional core: transaction lifecycle, the
// single-writer state machine, the versioned index, the event log, and
// snapshot-based recovery.
package engine

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"statehouse/pkg/engine/index"
	"statehouse/pkg/engine/snapshot"
	"statehouse/pkg/engine/txn"
	"statehouse/pkg/errdef"
	"statehouse/pkg/logger"
	"statehouse/pkg/store"
	"statehouse/pkg/store/keys"
	"statehouse/pkg/types"
)

// Options configures an Engine. Backend and SnapshotDir are required (memdb
// callers may point SnapshotDir at a temp dir; snapshots are only written
// when SnapshotInterval or an explicit trigger asks for one).
type Options struct {
	Backend           store.Backend
	SnapshotDir       string
	FsyncOnCommit     bool
	SnapshotInterval  uint64 // commits between snapshots; 0 disables
	SnapshotRetain    int
	DefaultTxnTimeout time.Duration
	SweepInterval     time.Duration
	TerminalRetention time.Duration
	MaxValueBytes     int64
	ReplayBuffer      int
}

// Engine owns the commit clock and version index. All mutations flow
// through the single writer goroutine; reads go straight to the index.
type Engine struct {
	backend store.Backend
	idx     *index.Index
	table   *txn.Table
	snaps   *snapshot.Manager

	// clock is the last committed commit_ts. Written only by the writer
	// goroutine, after the batch landed; read atomically by readers.
	clock atomic.Uint64

	maxValueBytes int64
	fsync         bool
	snapInterval  uint64
	replayBuffer  int
	sweepInterval time.Duration

	commitsSinceSnap uint64

	reqCh  chan request
	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// Open recovers state from the backend (snapshot, then log tail) and starts
// the writer and the expiry sweeper. A recovery failure means the log is
// corrupt and the engine refuses to start.
func Open(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errdef.New(errdef.KindInvalidRequest, "backend is required")
	}
	if opts.ReplayBuffer <= 0 {
		opts.ReplayBuffer = 128
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	e := &Engine{
		backend:       opts.Backend,
		idx:           index.New(),
		table:         txn.NewTable(opts.DefaultTxnTimeout, opts.TerminalRetention),
		snaps:         snapshot.NewManager(opts.SnapshotDir, opts.SnapshotRetain),
		maxValueBytes: opts.MaxValueBytes,
		fsync:         opts.FsyncOnCommit,
		snapInterval:  opts.SnapshotInterval,
		replayBuffer:  opts.ReplayBuffer,
		sweepInterval: opts.SweepInterval,
		reqCh:         make(chan request),
		stopCh:        make(chan struct{}),
	}
	if err := e.recover(); err != nil {
		return nil, err
	}
	e.wg.Add(2)
	go e.writerLoop()
	go e.sweepLoop()
	logger.Info("engine_opened", "commit_ts", e.clock.Load(), "records", e.idx.Len())
	return e, nil
}

// Close stops the writer after draining queued commits, flushes the backend
// and closes it. Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
		if ferr := e.backend.Flush(); ferr != nil {
			logger.Error("engine_close_flush_failed", "error", ferr)
			err = ferr
		}
		if cerr := e.backend.Close(); cerr != nil {
			err = cerr
		}
		logger.Info("engine_closed", "commit_ts", e.clock.Load())
	})
	return err
}

// Health verifies the backend answers a point read.
func (e *Engine) Health() error {
	_, _, err := e.backend.Get([]byte(keys.MetaCommitTS))
	return err
}

// CommitTS returns the latest committed commit timestamp.
func (e *Engine) CommitTS() uint64 {
	return e.clock.Load()
}

// Begin starts a transaction. A zero timeout uses the configured default; a
// negative timeout is rejected.
func (e *Engine) Begin(timeout time.Duration) (string, error) {
	if timeout < 0 {
		return "", errdef.New(errdef.KindInvalidRequest, "timeout must not be negative")
	}
	id := e.table.Begin(timeout)
	metricTxnsBegun.Inc()
	return id, nil
}

// Write stages a write of value at (ns, agent, key) in the transaction.
func (e *Engine) Write(txnID, namespace, agentID, key string, value types.Value) error {
	namespace = orDefault(namespace)
	if err := types.ValidateTriple(namespace, agentID, key); err != nil {
		return err
	}
	if err := types.ValidateValue(value, e.maxValueBytes); err != nil {
		return err
	}
	return e.table.Stage(txnID, txn.StagedOp{
		Namespace: namespace,
		AgentID:   agentID,
		Key:       key,
		Value:     append(types.Value(nil), value...),
	})
}

// Delete stages a delete of (ns, agent, key) in the transaction.
func (e *Engine) Delete(txnID, namespace, agentID, key string) error {
	namespace = orDefault(namespace)
	if err := types.ValidateTriple(namespace, agentID, key); err != nil {
		return err
	}
	return e.table.Stage(txnID, txn.StagedOp{
		Namespace: namespace,
		AgentID:   agentID,
		Key:       key,
		Delete:    true,
	})
}

// Abort discards the transaction. Idempotent on terminal transactions.
func (e *Engine) Abort(txnID string) {
	e.table.Abort(txnID)
}

// GetState returns the latest record for the triple. Tombstoned and
// never-written keys report exists=false; tombstones keep their version and
// commit_ts so callers can observe the counter.
func (e *Engine) GetState(namespace, agentID, key string) (types.StateRecord, bool, error) {
	namespace = orDefault(namespace)
	if err := types.ValidateTriple(namespace, agentID, key); err != nil {
		return types.StateRecord{}, false, err
	}
	r, ok := e.idx.Get(types.RecordID{Namespace: namespace, AgentID: agentID, Key: key})
	if !ok {
		return types.StateRecord{}, false, nil
	}
	return r, !r.Deleted, nil
}

// GetStateAtVersion returns the record of the triple at an exact version.
// key-not-found for triples never written; version-not-found for version 0
// or versions beyond the current counter.
func (e *Engine) GetStateAtVersion(namespace, agentID, key string, version uint64) (types.StateRecord, bool, error) {
	namespace = orDefault(namespace)
	if err := types.ValidateTriple(namespace, agentID, key); err != nil {
		return types.StateRecord{}, false, err
	}
	cur, ok := e.idx.Get(types.RecordID{Namespace: namespace, AgentID: agentID, Key: key})
	if !ok {
		return types.StateRecord{}, false, errdef.Newf(errdef.KindKeyNotFound, "key %s/%s/%s has never existed", namespace, agentID, key)
	}
	if version == 0 || version > cur.Version {
		return types.StateRecord{}, false, errdef.Newf(errdef.KindVersionNotFound, "version %d out of range [1, %d]", version, cur.Version)
	}
	b, found, err := e.backend.Get(keys.Version(namespace, agentID, key, version))
	if err != nil {
		return types.StateRecord{}, false, err
	}
	if !found {
		return types.StateRecord{}, false, errdef.Newf(errdef.KindInternal, "version record %d missing for %s/%s/%s", version, namespace, agentID, key)
	}
	var r types.StateRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return types.StateRecord{}, false, errdef.Wrap(errdef.KindInternal, err, "decode version record")
	}
	return r, !r.Deleted, nil
}

// ListKeys returns the live keys of (ns, agent) in ascending order.
func (e *Engine) ListKeys(namespace, agentID string) ([]string, error) {
	namespace = orDefault(namespace)
	if err := types.ValidateAgent(namespace, agentID); err != nil {
		return nil, err
	}
	return e.idx.ListKeys(namespace, agentID), nil
}

// ScanPrefix returns the live records of (ns, agent) whose key starts with
// prefix, ascending by key, all reflecting one commit frontier.
func (e *Engine) ScanPrefix(namespace, agentID, prefix string) ([]types.StateRecord, error) {
	namespace = orDefault(namespace)
	if err := types.ValidateAgent(namespace, agentID); err != nil {
		return nil, err
	}
	return e.idx.ScanPrefix(namespace, agentID, prefix), nil
}

func orDefault(namespace string) string {
	if namespace == "" {
		return types.DefaultNamespace
	}
	return namespace
}

// loadMetaClock reads the persisted commit clock, 0 when absent.
func (e *Engine) loadMetaClock() (uint64, error) {
	b, found, err := e.backend.Get([]byte(keys.MetaCommitTS))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	ts, perr := strconv.ParseUint(string(b), 10, 64)
	if perr != nil {
		return 0, errdef.Wrap(errdef.KindInternal, perr, "decode commit clock")
	}
	return ts, nil
}

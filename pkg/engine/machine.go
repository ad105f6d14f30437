package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"statehouse/pkg/engine/txn"
	"statehouse/pkg/errdef"
	"statehouse/pkg/logger"
	"statehouse/pkg/store"
	"statehouse/pkg/store/keys"
	"statehouse/pkg/types"
)

// request is one unit of work for the writer goroutine: a commit, or an
// explicit snapshot trigger.
type request struct {
	txnID    string
	snapshot bool
	resp     chan result
}

type result struct {
	commitTS uint64
	err      error
}

// Commit hands the transaction to the single writer and blocks until it is
// applied or rejected. The deadline is checked on entry to the queue; an
// accepted commit does not expire while it waits. The returned commit_ts is
// durable per the fsync policy before Commit returns.
func (e *Engine) Commit(ctx context.Context, txnID string) (uint64, error) {
	if err := e.table.MarkPending(txnID); err != nil {
		return 0, err
	}
	req := request{txnID: txnID, resp: make(chan result, 1)}
	select {
	case e.reqCh <- req:
	case <-e.stopCh:
		e.table.UnmarkPending(txnID)
		return 0, errdef.New(errdef.KindInternal, "engine is shutting down")
	case <-ctx.Done():
		e.table.UnmarkPending(txnID)
		return 0, errdef.Wrap(errdef.KindInternal, ctx.Err(), "commit wait cancelled")
	}
	r := <-req.resp
	return r.commitTS, r.err
}

// Snapshot asks the writer to cut a snapshot at the current commit frontier
// and returns once it is on disk.
func (e *Engine) Snapshot(ctx context.Context) error {
	req := request{snapshot: true, resp: make(chan result, 1)}
	select {
	case e.reqCh <- req:
	case <-e.stopCh:
		return errdef.New(errdef.KindInternal, "engine is shutting down")
	case <-ctx.Done():
		return errdef.Wrap(errdef.KindInternal, ctx.Err(), "snapshot wait cancelled")
	}
	r := <-req.resp
	return r.err
}

// writerLoop is the single linearization point: exactly one request is
// applied at a time, in arrival (FIFO) order.
func (e *Engine) writerLoop() {
	defer e.wg.Done()
	for {
		select {
		case req := <-e.reqCh:
			e.serve(req)
		case <-e.stopCh:
			// drain whatever is already queued, then stop
			for {
				select {
				case req := <-e.reqCh:
					e.serve(req)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) serve(req request) {
	if req.snapshot {
		req.resp <- result{err: e.writeSnapshot()}
		return
	}
	ts, err := e.apply(req.txnID)
	req.resp <- result{commitTS: ts, err: err}
}

// apply commits one transaction: collapse staged ops, assign versions and
// the next commit_ts, stage everything into one atomic batch, then publish
// to the in-memory index only after the batch landed.
func (e *Engine) apply(txnID string) (uint64, error) {
	staged, err := e.table.Take(txnID)
	if err != nil {
		return 0, err
	}

	ops := collapse(staged)
	commitTS := e.clock.Load() + 1

	records := make([]types.StateRecord, 0, len(ops))
	opRecords := make([]types.OperationRecord, 0, len(ops))
	for _, op := range ops {
		id := types.RecordID{Namespace: op.Namespace, AgentID: op.AgentID, Key: op.Key}
		version := e.idx.CurrentVersion(id) + 1
		rec := types.StateRecord{
			Namespace: op.Namespace,
			AgentID:   op.AgentID,
			Key:       op.Key,
			Value:     op.Value,
			Version:   version,
			CommitTS:  commitTS,
			Deleted:   op.Delete,
		}
		records = append(records, rec)
		opRecords = append(opRecords, types.OperationRecord{
			Namespace: op.Namespace,
			AgentID:   op.AgentID,
			Key:       op.Key,
			Value:     op.Value,
			Version:   version,
			Deleted:   op.Delete,
		})
	}

	entry := types.EventLogEntry{TxnID: txnID, CommitTS: commitTS, Operations: opRecords}
	batch, err := buildBatch(records, entry)
	if err != nil {
		e.table.Settle(txnID, types.TxnAborted)
		return 0, err
	}

	if err := e.backend.ApplyBatch(batch, e.fsync); err != nil {
		// storage failure leaves published state untouched; the
		// transaction is done for, the engine stays available
		e.table.Settle(txnID, types.TxnAborted)
		metricStorageErrors.Inc()
		logger.Error("commit_storage_failed", "txn_id", txnID, "commit_ts", commitTS, "error", err)
		return 0, err
	}

	e.idx.PutAll(records)
	e.clock.Store(commitTS)
	e.table.Settle(txnID, types.TxnCommitted)
	metricCommitsTotal.Inc()
	metricCommitClock.Set(float64(commitTS))
	logger.Debug("txn_committed", "txn_id", txnID, "commit_ts", commitTS, "operations", len(opRecords))

	e.commitsSinceSnap++
	if e.snapInterval > 0 && e.commitsSinceSnap >= e.snapInterval {
		if err := e.writeSnapshot(); err != nil {
			logger.Error("snapshot_failed", "commit_ts", commitTS, "error", err)
		}
	}
	return commitTS, nil
}

// collapse reduces the staged list to one operation per triple: the last
// staged operation wins, placed at the position the triple first appeared.
func collapse(staged []txn.StagedOp) []txn.StagedOp {
	if len(staged) < 2 {
		return staged
	}
	pos := make(map[types.RecordID]int, len(staged))
	out := make([]txn.StagedOp, 0, len(staged))
	for _, op := range staged {
		id := types.RecordID{Namespace: op.Namespace, AgentID: op.AgentID, Key: op.Key}
		if i, seen := pos[id]; seen {
			out[i] = op
			continue
		}
		pos[id] = len(out)
		out = append(out, op)
	}
	return out
}

// buildBatch assembles the atomic write set for one commit: latest-state
// and version records per operation, the event log entry, and the commit
// clock metadata record.
func buildBatch(records []types.StateRecord, entry types.EventLogEntry) ([]store.BatchOp, error) {
	batch := make([]store.BatchOp, 0, 2*len(records)+2)
	for i := range records {
		r := &records[i]
		b, err := json.Marshal(r)
		if err != nil {
			return nil, errdef.Wrap(errdef.KindInternal, err, "encode state record")
		}
		batch = append(batch,
			store.BatchOp{Key: keys.State(r.Namespace, r.AgentID, r.Key), Value: b},
			store.BatchOp{Key: keys.Version(r.Namespace, r.AgentID, r.Key, r.Version), Value: b},
		)
	}
	eb, err := json.Marshal(&entry)
	if err != nil {
		return nil, errdef.Wrap(errdef.KindInternal, err, "encode event log entry")
	}
	batch = append(batch,
		store.BatchOp{Key: keys.Event(entry.CommitTS), Value: eb},
		store.BatchOp{Key: []byte(keys.MetaCommitTS), Value: []byte(strconv.FormatUint(entry.CommitTS, 10))},
	)
	return batch, nil
}

// writeSnapshot cuts a snapshot at the current frontier and records it in
// the metadata family. Runs on the writer goroutine, so the index cannot
// move underneath it.
func (e *Engine) writeSnapshot() error {
	ts := e.clock.Load()
	name, err := e.snaps.Write(ts, e.idx.All())
	if err != nil {
		return err
	}
	if err := e.backend.ApplyBatch([]store.BatchOp{
		{Key: []byte(keys.MetaSnapshot), Value: []byte(name)},
	}, e.fsync); err != nil {
		return err
	}
	e.commitsSinceSnap = 0
	metricSnapshotsTotal.Inc()
	return nil
}

// sweepLoop expires deadline-passed transactions and evicts stale terminal
// entries.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := e.table.Sweep(); n > 0 {
				metricTxnsExpired.Add(float64(n))
			}
			metricTxnsOpen.Set(float64(e.table.OpenCount()))
		case <-e.stopCh:
			return
		}
	}
}

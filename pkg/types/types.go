// Package types holds the record, event, and snapshot shapes shared by the
// storage backends and the engine.
package types

import (
	"encoding/json"
)

// Value is a JSON-compatible tree. The engine treats it opaquely; it is
// stored verbatim so round-trips are lossless.
type Value = json.RawMessage

// RecordID is the identity of a state record: (namespace, agent, key).
type RecordID struct {
	Namespace string `json:"namespace"`
	AgentID   string `json:"agent_id"`
	Key       string `json:"key"`
}

// DefaultNamespace is used when a request omits the namespace.
const DefaultNamespace = "default"

// StateRecord is one version of a record. A nil Value with Deleted set is a
// tombstone: invisible to reads and listings but still carrying the version
// counter.
type StateRecord struct {
	Namespace string `json:"namespace"`
	AgentID   string `json:"agent_id"`
	Key       string `json:"key"`
	Value     Value  `json:"value,omitempty"`
	Version   uint64 `json:"version"`
	CommitTS  uint64 `json:"commit_ts"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// ID returns the record's identity triple.
func (r *StateRecord) ID() RecordID {
	return RecordID{Namespace: r.Namespace, AgentID: r.AgentID, Key: r.Key}
}

// OperationRecord is one applied operation inside an event log entry. A nil
// Value means the operation was a delete.
type OperationRecord struct {
	Namespace string `json:"namespace"`
	AgentID   string `json:"agent_id"`
	Key       string `json:"key"`
	Value     Value  `json:"value,omitempty"`
	Version   uint64 `json:"version"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// EventLogEntry records one committed transaction. Entries are keyed and
// ordered by CommitTS; Operations hold the collapsed staged list exactly as
// applied.
type EventLogEntry struct {
	TxnID      string            `json:"txn_id"`
	CommitTS   uint64            `json:"commit_ts"`
	Operations []OperationRecord `json:"operations"`
}

// SnapshotFormatVersion guards snapshot file compatibility.
const SnapshotFormatVersion = 1

// SnapshotMeta describes a snapshot file.
type SnapshotMeta struct {
	FormatVersion int    `json:"format_version"`
	SnapshotTS    uint64 `json:"snapshot_ts"`
	RecordCount   int    `json:"record_count"`
	CreatedAt     int64  `json:"created_at"`
}

// Snapshot is a full serialized view of the version index at SnapshotTS.
// Tombstones are included so recovery restores version counters for deleted
// keys without scanning the whole log.
type Snapshot struct {
	Meta    SnapshotMeta  `json:"meta"`
	Records []StateRecord `json:"records"`
}

// TxnState is the lifecycle state of a transaction.
type TxnState string

const (
	TxnOpen      TxnState = "open"
	TxnCommitted TxnState = "committed"
	TxnAborted   TxnState = "aborted"
	TxnExpired   TxnState = "expired"
)

// Terminal reports whether the state is one a transaction never leaves.
func (s TxnState) Terminal() bool {
	return s == TxnCommitted || s == TxnAborted || s == TxnExpired
}

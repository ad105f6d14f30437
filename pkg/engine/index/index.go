// Package index holds the in-memory version index: the latest
// (value, version, commit_ts) for every triple ever written, tombstones
// included. Only the engine's single writer mutates it; readers take the
// read lock for the whole of each operation so every read observes one
// consistent commit frontier.
package index

import (
	"sort"
	"strings"
	"sync"

	"statehouse/pkg/types"
)

type Index struct {
	mu      sync.RWMutex
	records map[types.RecordID]*types.StateRecord
}

func New() *Index {
	return &Index{records: make(map[types.RecordID]*types.StateRecord)}
}

// Get returns a copy of the latest record for the triple, tombstones
// included, or false when the triple was never written.
func (ix *Index) Get(id types.RecordID) (types.StateRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	r, ok := ix.records[id]
	if !ok {
		return types.StateRecord{}, false
	}
	return *r, true
}

// CurrentVersion returns the latest version counter for the triple, 0 when
// never written.
func (ix *Index) CurrentVersion(id types.RecordID) uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if r, ok := ix.records[id]; ok {
		return r.Version
	}
	return 0
}

// Put installs the latest record for its triple. Writer only.
func (ix *Index) Put(r types.StateRecord) {
	ix.mu.Lock()
	ix.records[r.ID()] = &r
	ix.mu.Unlock()
}

// PutAll installs a set of records under one lock acquisition, so readers
// see either none or all of a commit's effects.
func (ix *Index) PutAll(recs []types.StateRecord) {
	ix.mu.Lock()
	for i := range recs {
		r := recs[i]
		ix.records[r.ID()] = &r
	}
	ix.mu.Unlock()
}

// Reset replaces the whole index, used when loading a snapshot.
func (ix *Index) Reset(recs []types.StateRecord) {
	ix.mu.Lock()
	ix.records = make(map[types.RecordID]*types.StateRecord, len(recs))
	for i := range recs {
		r := recs[i]
		ix.records[r.ID()] = &r
	}
	ix.mu.Unlock()
}

// ListKeys returns the live (non-tombstoned) keys of (ns, agent) in
// ascending order.
func (ix *Index) ListKeys(namespace, agentID string) []string {
	ix.mu.RLock()
	var out []string
	for id, r := range ix.records {
		if id.Namespace == namespace && id.AgentID == agentID && !r.Deleted {
			out = append(out, id.Key)
		}
	}
	ix.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ScanPrefix returns copies of the live records of (ns, agent) whose key
// starts with prefix, in ascending key order. The read lock is held for the
// full scan, so the result reflects a single commit frontier.
func (ix *Index) ScanPrefix(namespace, agentID, prefix string) []types.StateRecord {
	ix.mu.RLock()
	var out []types.StateRecord
	for id, r := range ix.records {
		if id.Namespace == namespace && id.AgentID == agentID && !r.Deleted && strings.HasPrefix(id.Key, prefix) {
			out = append(out, *r)
		}
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// All returns copies of every record, tombstones included, for snapshots.
// Sorted by triple for deterministic snapshot files.
func (ix *Index) All() []types.StateRecord {
	ix.mu.RLock()
	out := make([]types.StateRecord, 0, len(ix.records))
	for _, r := range ix.records {
		out = append(out, *r)
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.AgentID != b.AgentID {
			return a.AgentID < b.AgentID
		}
		return a.Key < b.Key
	})
	return out
}

// Len returns the number of tracked triples.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

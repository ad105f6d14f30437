package index

import (
	"fmt"
	"testing"

	"statehouse/pkg/types"
)

func rec(agent, key string, version, ts uint64, deleted bool) types.StateRecord {
	return types.StateRecord{
		Namespace: "default",
		AgentID:   agent,
		Key:       key,
		Value:     types.Value(fmt.Sprintf(`%d`, version)),
		Version:   version,
		CommitTS:  ts,
		Deleted:   deleted,
	}
}

func TestGetAndCurrentVersion(t *testing.T) {
	ix := New()

	id := types.RecordID{Namespace: "default", AgentID: "a", Key: "k"}
	if _, ok := ix.Get(id); ok {
		t.Fatal("empty index returned a record")
	}
	if v := ix.CurrentVersion(id); v != 0 {
		t.Fatalf("CurrentVersion on empty = %d", v)
	}

	ix.Put(rec("a", "k", 1, 1, false))
	r, ok := ix.Get(id)
	if !ok || r.Version != 1 {
		t.Fatalf("Get after Put: ok=%v rec=%+v", ok, r)
	}

	ix.Put(rec("a", "k", 2, 2, true))
	if v := ix.CurrentVersion(id); v != 2 {
		t.Fatalf("tombstone lost the version counter: %d", v)
	}
	r, _ = ix.Get(id)
	if !r.Deleted {
		t.Fatal("tombstone not recorded")
	}
}

func TestListKeysExcludesTombstones(t *testing.T) {
	ix := New()
	ix.PutAll([]types.StateRecord{
		rec("a", "b-key", 1, 1, false),
		rec("a", "a-key", 1, 2, false),
		rec("a", "c-key", 1, 3, true),
		rec("other", "z", 1, 4, false),
	})

	keys := ix.ListKeys("default", "a")
	if len(keys) != 2 || keys[0] != "a-key" || keys[1] != "b-key" {
		t.Fatalf("ListKeys = %v", keys)
	}
}

func TestScanPrefixOrdered(t *testing.T) {
	ix := New()
	ix.PutAll([]types.StateRecord{
		rec("a", "plan/3", 1, 1, false),
		rec("a", "plan/1", 1, 1, false),
		rec("a", "plan/2", 1, 1, true),
		rec("a", "note/1", 1, 1, false),
	})

	recs := ix.ScanPrefix("default", "a", "plan/")
	if len(recs) != 2 {
		t.Fatalf("scan returned %d records, want 2", len(recs))
	}
	if recs[0].Key != "plan/1" || recs[1].Key != "plan/3" {
		t.Fatalf("scan order wrong: %s, %s", recs[0].Key, recs[1].Key)
	}
}

func TestResetReplacesEverything(t *testing.T) {
	ix := New()
	ix.Put(rec("a", "old", 5, 5, false))

	ix.Reset([]types.StateRecord{rec("a", "new", 1, 1, false)})
	if _, ok := ix.Get(types.RecordID{Namespace: "default", AgentID: "a", Key: "old"}); ok {
		t.Fatal("Reset kept a stale record")
	}
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
}

func TestAllIsSortedAndIncludesTombstones(t *testing.T) {
	ix := New()
	ix.PutAll([]types.StateRecord{
		rec("b", "k", 1, 1, false),
		rec("a", "k2", 2, 2, true),
		rec("a", "k1", 1, 3, false),
	})

	all := ix.All()
	if len(all) != 3 {
		t.Fatalf("All returned %d records", len(all))
	}
	if all[0].Key != "k1" || all[1].Key != "k2" || all[2].AgentID != "b" {
		t.Fatalf("All not sorted by triple: %+v", all)
	}
}

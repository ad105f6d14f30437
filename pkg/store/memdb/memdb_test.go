package memdb

import (
	"fmt"
	"testing"

	"statehouse/pkg/store"
)

func TestGetSetDelete(t *testing.T) {
	db := Open()
	defer db.Close()

	if _, found, _ := db.Get([]byte("missing")); found {
		t.Fatal("empty db returned a value")
	}

	if err := db.ApplyBatch([]store.BatchOp{{Key: []byte("k"), Value: []byte("v")}}, false); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	v, found, err := db.Get([]byte("k"))
	if err != nil || !found || string(v) != "v" {
		t.Fatalf("Get: %s %v %v", v, found, err)
	}

	if err := db.ApplyBatch([]store.BatchOp{{Key: []byte("k"), Value: nil}}, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := db.Get([]byte("k")); found {
		t.Fatal("deleted key still present")
	}
}

func TestPrefixIterationOrder(t *testing.T) {
	db := Open()
	defer db.Close()

	var batch []store.BatchOp
	for _, k := range []string{"s:b", "s:a", "t:x", "s:c"} {
		batch = append(batch, store.BatchOp{Key: []byte(k), Value: []byte(k)})
	}
	if err := db.ApplyBatch(batch, false); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	iter, err := db.NewPrefixIter([]byte("s:"))
	if err != nil {
		t.Fatalf("NewPrefixIter: %v", err)
	}
	defer iter.Close()

	var got []string
	for iter.Next() {
		got = append(got, string(iter.Key()))
	}
	want := []string{"s:a", "s:b", "s:c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRangeIterationBounds(t *testing.T) {
	db := Open()
	defer db.Close()

	var batch []store.BatchOp
	for i := 0; i < 10; i++ {
		k := fmt.Sprintf("l:%03d", i)
		batch = append(batch, store.BatchOp{Key: []byte(k), Value: []byte{byte(i)}})
	}
	if err := db.ApplyBatch(batch, false); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	iter, err := db.NewRangeIter([]byte("l:003"), []byte("l:007"))
	if err != nil {
		t.Fatalf("NewRangeIter: %v", err)
	}
	defer iter.Close()

	var got []string
	for iter.Next() {
		got = append(got, string(iter.Key()))
	}
	// lower inclusive, upper exclusive
	if len(got) != 4 || got[0] != "l:003" || got[3] != "l:006" {
		t.Fatalf("range iteration = %v", got)
	}
}

func TestIteratorSeesConsistentSnapshot(t *testing.T) {
	db := Open()
	defer db.Close()

	if err := db.ApplyBatch([]store.BatchOp{{Key: []byte("s:a"), Value: []byte("1")}}, false); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	iter, err := db.NewPrefixIter([]byte("s:"))
	if err != nil {
		t.Fatalf("NewPrefixIter: %v", err)
	}
	defer iter.Close()

	// a write after iterator creation is not observed by this iterator
	if err := db.ApplyBatch([]store.BatchOp{{Key: []byte("s:b"), Value: []byte("2")}}, false); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	n := 0
	for iter.Next() {
		n++
	}
	if n != 1 {
		t.Fatalf("iterator observed %d keys, want the 1 present at creation", n)
	}
}

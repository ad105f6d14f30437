package keys

import (
	"bytes"
	"testing"
)

func TestStateKeyRoundTrip(t *testing.T) {
	k := State("default", "agent-1", "plans/current")
	ns, agent, key, err := ParseStateKey(k)
	if err != nil {
		t.Fatalf("ParseStateKey: %v", err)
	}
	if ns != "default" || agent != "agent-1" || key != "plans/current" {
		t.Fatalf("round trip lost segments: %s %s %s", ns, agent, key)
	}
}

func TestStateKeyAllowsSeparatorInKey(t *testing.T) {
	k := State("default", "a", "odd:key:name")
	_, _, key, err := ParseStateKey(k)
	if err != nil {
		t.Fatalf("ParseStateKey: %v", err)
	}
	if key != "odd:key:name" {
		t.Fatalf("key segment mangled: %s", key)
	}
}

func TestEventKeyOrdering(t *testing.T) {
	// zero-padded decimal keys must sort like their numeric values
	cases := []uint64{1, 2, 9, 10, 99, 100, 1000, 1 << 40}
	for i := 1; i < len(cases); i++ {
		a, b := Event(cases[i-1]), Event(cases[i])
		if bytes.Compare(a, b) >= 0 {
			t.Fatalf("Event(%d) >= Event(%d) lexicographically", cases[i-1], cases[i])
		}
	}
}

func TestEventKeyRoundTrip(t *testing.T) {
	for _, ts := range []uint64{1, 42, 1000000} {
		got, err := ParseEvent(Event(ts))
		if err != nil {
			t.Fatalf("ParseEvent(%d): %v", ts, err)
		}
		if got != ts {
			t.Fatalf("round trip: got %d, want %d", got, ts)
		}
	}
	if _, err := ParseEvent([]byte("s:not:a:log:key")); err == nil {
		t.Fatal("ParseEvent accepted a state key")
	}
}

func TestEventRange(t *testing.T) {
	lower, upper := EventRange(3, 7)
	if string(lower) != string(Event(3)) {
		t.Fatalf("lower = %s", lower)
	}
	// upper bound is exclusive, so it must be the key after 7
	if string(upper) != string(Event(8)) {
		t.Fatalf("upper = %s", upper)
	}

	_, upper = EventRange(1, ^uint64(0))
	if string(upper) != EventKeyUpperBound {
		t.Fatalf("open-ended upper = %s", upper)
	}
}

func TestVersionKeyOrdering(t *testing.T) {
	a := Version("default", "a", "k", 9)
	b := Version("default", "a", "k", 10)
	if bytes.Compare(a, b) >= 0 {
		t.Fatal("version keys do not sort numerically")
	}
}

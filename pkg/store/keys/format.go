// Package keys centralizes the persisted key layout.
package keys

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// notation dictionary for key formats:
	// s = state record (latest version)
	// v = version record (one per committed version)
	// l = event log entry
	// m = metadata
	// All keys are lowercase; segments are separated by ":".
	// <...> = variable segment (e.g. <ns>, <agent>, <key>)

	// primary storage key formats
	StateKey   = "s:%s:%s:%s"       // s:<ns>:<agent>:<key>
	VersionKey = "v:%s:%s:%s:%020d" // v:<ns>:<agent>:<key>:<version>
	EventKey   = "l:%020d"          // l:<commit_ts>

	// metadata keys
	MetaCommitTS = "m:commit_ts"
	MetaSnapshot = "m:snapshot"

	// padding width for numeric segments (fixed for lexicographic ordering)
	TSPadWidth = 20
)

// EventKeyLowerBound and EventKeyUpperBound bracket the event log keyspace
// for range iteration.
const (
	EventKeyLowerBound = "l:00000000000000000000"
	EventKeyUpperBound = "l:99999999999999999999"
)

// State returns the latest-state key for a triple.
func State(namespace, agentID, key string) []byte {
	return []byte(fmt.Sprintf(StateKey, namespace, agentID, key))
}

// StatePrefix returns the prefix covering all state keys of (ns, agent).
// Appending keyPrefix narrows it to keys starting with that prefix.
func StatePrefix(namespace, agentID, keyPrefix string) []byte {
	return []byte(fmt.Sprintf("s:%s:%s:%s", namespace, agentID, keyPrefix))
}

// Version returns the versioned-state key for a triple at version.
func Version(namespace, agentID, key string, version uint64) []byte {
	return []byte(fmt.Sprintf(VersionKey, namespace, agentID, key, version))
}

// Event returns the event log key for a commit timestamp.
func Event(commitTS uint64) []byte {
	return []byte(fmt.Sprintf(EventKey, commitTS))
}

// EventRange returns the [lower, upper) byte bounds covering commit
// timestamps start..end inclusive.
func EventRange(start, end uint64) (lower, upper []byte) {
	lower = Event(start)
	if end == ^uint64(0) {
		return lower, []byte(EventKeyUpperBound)
	}
	return lower, Event(end + 1)
}

// ParseEvent extracts the commit timestamp from an event log key.
func ParseEvent(k []byte) (uint64, error) {
	s := string(k)
	if !strings.HasPrefix(s, "l:") || len(s) != len("l:")+TSPadWidth {
		return 0, fmt.Errorf("malformed event key %q", s)
	}
	return strconv.ParseUint(s[2:], 10, 64)
}

// ParseStateKey splits a state key into its triple. The key segment may
// itself contain the separator, so only the first two separators after the
// prefix split.
func ParseStateKey(k []byte) (namespace, agentID, key string, err error) {
	s := string(k)
	if !strings.HasPrefix(s, "s:") {
		return "", "", "", fmt.Errorf("malformed state key %q", s)
	}
	parts := strings.SplitN(s[2:], ":", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed state key %q", s)
	}
	return parts[0], parts[1], parts[2], nil
}

// Package snapshot serializes the version index to self-describing files
// and reloads the newest one on startup.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"statehouse/pkg/errdef"
	"statehouse/pkg/logger"
	"statehouse/pkg/types"
)

const filePattern = "snapshot-%020d.json"

// Manager writes and loads snapshot files under dir, keeping the newest
// `retain` files (the latest is never deleted).
type Manager struct {
	dir    string
	retain int
}

func NewManager(dir string, retain int) *Manager {
	if retain <= 0 {
		retain = 3
	}
	return &Manager{dir: dir, retain: retain}
}

// Write serializes a snapshot of records at snapshotTS. The file lands via
// temp-file + rename so a crash mid-write never leaves a readable partial
// snapshot. Returns the snapshot filename.
func (m *Manager) Write(snapshotTS uint64, records []types.StateRecord) (string, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", errdef.Wrap(errdef.KindStorage, err, "create snapshot dir")
	}
	snap := types.Snapshot{
		Meta: types.SnapshotMeta{
			FormatVersion: types.SnapshotFormatVersion,
			SnapshotTS:    snapshotTS,
			RecordCount:   len(records),
			CreatedAt:     time.Now().UTC().Unix(),
		},
		Records: records,
	}
	b, err := json.Marshal(&snap)
	if err != nil {
		return "", errdef.Wrap(errdef.KindInternal, err, "marshal snapshot")
	}

	name := fmt.Sprintf(filePattern, snapshotTS)
	tmp, err := os.CreateTemp(m.dir, ".snapshot-*")
	if err != nil {
		return "", errdef.Wrap(errdef.KindStorage, err, "create snapshot temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errdef.Wrap(errdef.KindStorage, err, "write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errdef.Wrap(errdef.KindStorage, err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errdef.Wrap(errdef.KindStorage, err, "close snapshot")
	}
	if err := os.Rename(tmpName, filepath.Join(m.dir, name)); err != nil {
		os.Remove(tmpName)
		return "", errdef.Wrap(errdef.KindStorage, err, "rename snapshot")
	}
	logger.Info("snapshot_written", "file", name, "snapshot_ts", snapshotTS, "records", len(records))

	m.prune()
	return name, nil
}

// LoadLatest returns the newest snapshot, or nil when none exists.
func (m *Manager) LoadLatest() (*types.Snapshot, error) {
	names, err := m.list()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	name := names[len(names)-1]
	b, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return nil, errdef.Wrapf(errdef.KindStorage, err, "read snapshot %s", name)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, errdef.Wrapf(errdef.KindInternal, err, "decode snapshot %s", name)
	}
	if snap.Meta.FormatVersion != types.SnapshotFormatVersion {
		return nil, errdef.Newf(errdef.KindInternal, "snapshot %s has format version %d, want %d", name, snap.Meta.FormatVersion, types.SnapshotFormatVersion)
	}
	logger.Info("snapshot_loaded", "file", name, "snapshot_ts", snap.Meta.SnapshotTS, "records", snap.Meta.RecordCount)
	return &snap, nil
}

// list returns snapshot filenames in ascending snapshot_ts order.
func (m *Manager) list() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdef.Wrap(errdef.KindStorage, err, "list snapshot dir")
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, "snapshot-") && strings.HasSuffix(n, ".json") {
			names = append(names, n)
		}
	}
	// zero-padded timestamps make lexicographic order the numeric order
	sort.Strings(names)
	return names, nil
}

// prune removes all but the newest `retain` snapshots. Best effort; a failed
// removal only logs.
func (m *Manager) prune() {
	names, err := m.list()
	if err != nil || len(names) <= m.retain {
		return
	}
	for _, n := range names[:len(names)-m.retain] {
		if err := os.Remove(filepath.Join(m.dir, n)); err != nil {
			logger.Warn("snapshot_prune_failed", "file", n, "error", err)
		} else {
			logger.Debug("snapshot_pruned", "file", n)
		}
	}
}

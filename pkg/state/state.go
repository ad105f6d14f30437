// Package state owns the on-disk layout of a statehouse data directory.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Paths is the canonical runtime folder layout under the data directory.
type Paths struct {
	Root      string
	Store     string // pebble keyspace
	Snapshots string // snapshot files
	Telemetry string // per-op trace files
}

// PathsFor computes the layout for a data directory.
func PathsFor(root string) Paths {
	return Paths{
		Root:      root,
		Store:     filepath.Join(root, "store"),
		Snapshots: filepath.Join(root, "snapshots"),
		Telemetry: filepath.Join(root, "state", "telemetry"),
	}
}

// EnsureStateDirs creates the runtime folder layout under dbPath: each path
// must be a real directory (not a symlink), restrictive perms, writable.
func EnsureStateDirs(dbPath string) error {
	p := PathsFor(dbPath)
	paths := []string{p.Store, p.Snapshots, p.Telemetry}

	for _, dir := range paths {
		if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", dir, err)
		}

		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
		}

		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}

		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink after creation: %s", dir)
			}
		}

		// check writable by creating and deleting a temp file
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	return nil
}

var (
	PathsVar Paths
	initOnce sync.Once
	initErr  error
)

// Init ensures the filesystem layout exists and caches the resolved paths.
// Safe to call multiple times; initialization happens once.
func Init(dbPath string) error {
	initOnce.Do(func() {
		path := strings.TrimSpace(dbPath)
		if path == "" {
			path = "./statehouse-data"
		}
		path = filepath.Clean(path)
		PathsVar = PathsFor(path)
		initErr = EnsureStateDirs(path)
	})
	return initErr
}

package people

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"kin-go/internal/kin"
)

const snapshotVersion = 1

const lockRetryDelay = 50 * time.Millisecond

// snapshotDoc is the on-disk layout of the registry.
type snapshotDoc struct {
	Version int                 `json:"version"`
	Persons []*kin.PersonEntity `json:"persons"`
}

// snapshotFile reads and writes the registry file. Writers take an exclusive
// lock on a sidecar .lock file and replace the snapshot with a rename;
// readers take a shared lock.
type snapshotFile struct {
	path string
	lock *flock.Flock
}

func newSnapshotFile(path string) *snapshotFile {
	return &snapshotFile{path: path, lock: flock.New(path + ".lock")}
}

func (f *snapshotFile) load(ctx context.Context) ([]*kin.PersonEntity, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	locked, err := f.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring shared lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring shared lock on %s: not acquired", f.lock.Path())
	}
	defer f.lock.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.path, err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	return doc.Persons, nil
}

func (f *snapshotFile) save(ctx context.Context, persons []*kin.PersonEntity) error {
	data, err := json.MarshalIndent(snapshotDoc{Version: snapshotVersion, Persons: persons}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquiring exclusive lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquiring exclusive lock on %s: not acquired", f.lock.Path())
	}
	defer f.lock.Unlock()

	tmp, err := os.CreateTemp(dir, ".people-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

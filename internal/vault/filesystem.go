package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"kin-go/internal/kin"
)

// FileSystemVault stores snapshots under a root directory, typically a
// synced or mounted drive:
//
//	<root>/
//	  <hostID>/
//	    <name>.age       (encrypted snapshot)
//	    <name>.version   (sync run ID the snapshot was taken at)
type FileSystemVault struct {
	name string
	root string
}

var _ kin.Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a vault rooted at root, creating it if needed.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating vault root: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

func (v *FileSystemVault) snapshotPath(hostID, name, ext string) (string, error) {
	for _, part := range []string{hostID, name} {
		if part == "" || part != filepath.Base(part) || strings.HasPrefix(part, ".") {
			return "", &kin.InputError{Field: "snapshot", Value: part, Reason: "not a plain name"}
		}
	}
	return filepath.Join(v.root, hostID, name+ext), nil
}

// PutSnapshot writes the snapshot first and the version last, so a reader
// never sees a version newer than the data.
func (v *FileSystemVault) PutSnapshot(ctx context.Context, hostID, name string, r io.Reader, size int64, version int64) error {
	dataPath, err := v.snapshotPath(hostID, name, ".age")
	if err != nil {
		return err
	}
	versionPath, _ := v.snapshotPath(hostID, name, ".version")
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o700); err != nil {
		return fmt.Errorf("creating host directory: %w", err)
	}

	if err := writeAtomic(dataPath, r, size); err != nil {
		return err
	}
	return writeAtomic(versionPath, strings.NewReader(strconv.FormatInt(version, 10)), int64(len(strconv.FormatInt(version, 10))))
}

func (v *FileSystemVault) GetSnapshot(ctx context.Context, hostID, name string, w io.Writer) error {
	dataPath, err := v.snapshotPath(hostID, name, ".age")
	if err != nil {
		return err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot %s for host %s: %w", name, hostID, kin.ErrNotFound)
		}
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}

func (v *FileSystemVault) GetSnapshotVersion(ctx context.Context, hostID, name string) (int64, error) {
	versionPath, err := v.snapshotPath(hostID, name, ".version")
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(versionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the root is a writable directory.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	f, err := os.CreateTemp(v.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault root not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeAtomic writes r to path through a temp file and a rename.
func writeAtomic(path string, r io.Reader, expectedSize int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
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

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}

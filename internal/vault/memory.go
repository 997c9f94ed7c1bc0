package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"kin-go/internal/kin"
)

type memorySnapshot struct {
	data    []byte
	version int64
}

// MemoryVault keeps snapshots in memory. It is used by tests and by the
// "memory" vault type. Safe for concurrent use.
type MemoryVault struct {
	name      string
	mu        sync.RWMutex
	snapshots map[string]memorySnapshot // "hostID/name" -> snapshot
}

var _ kin.Vault = (*MemoryVault)(nil)

func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{name: name, snapshots: make(map[string]memorySnapshot)}
}

func snapshotKey(hostID, name string) string {
	return hostID + "/" + name
}

func (m *MemoryVault) PutSnapshot(ctx context.Context, hostID, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshotKey(hostID, name)] = memorySnapshot{data: data, version: version}
	return nil
}

func (m *MemoryVault) GetSnapshot(ctx context.Context, hostID, name string, w io.Writer) error {
	m.mu.RLock()
	snap, ok := m.snapshots[snapshotKey(hostID, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("snapshot %s for host %s: %w", name, hostID, kin.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(snap.data)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) GetSnapshotVersion(ctx context.Context, hostID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[snapshotKey(hostID, name)].version, nil
}

func (m *MemoryVault) ValidateSetup(ctx context.Context) error { return nil }

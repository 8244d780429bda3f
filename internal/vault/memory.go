package vault

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"ib-go/internal/ib"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// Snapshots are namespaced by instance ID so vaults can be shared in tests.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name       string
	instanceID string
	snapshots  map[string][]byte // "instanceID/name" -> sealed snapshot
	mu         sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name, instanceID string) *MemoryVault {
	return &MemoryVault{
		name:       name,
		instanceID: instanceID,
		snapshots:  make(map[string][]byte),
	}
}

func (m *MemoryVault) key(name string) string {
	return m.instanceID + "/" + name
}

// PutSnapshot stores a snapshot, replacing any earlier one with the same name.
func (m *MemoryVault) PutSnapshot(name string, r io.Reader, size int64) error {
	if err := validateName(name); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[m.key(name)] = data
	return nil
}

// GetSnapshot retrieves a snapshot by name.
func (m *MemoryVault) GetSnapshot(name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshots[m.key(name)]
	if !ok {
		return fmt.Errorf("snapshot %q: %w", name, ib.ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns this instance's snapshot names in ascending order.
func (m *MemoryVault) ListSnapshots() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := m.instanceID + "/"
	names := make([]string, 0)
	for key := range m.snapshots {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			names = append(names, key[len(prefix):])
		}
	}
	sort.Strings(names)
	return names, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements ib.Vault interface
var _ ib.Vault = (*MemoryVault)(nil)

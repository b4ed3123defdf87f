package blobstore

import (
	"fmt"
	"sync"

	"firestige.xyz/gltrace/internal/core"
)

type memEntry struct {
	data []byte
	crc  uint32
}

// Memory keeps blobs in process memory, in insertion order.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	order   []string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry)}
}

func (m *Memory) Put(data []byte, hint string) (string, error) {
	id := MakeID(data, hint)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; ok {
		return id, nil
	}
	cp := append([]byte(nil), data...)
	m.entries[id] = memEntry{data: cp, crc: Checksum(cp)}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) Get(id string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", id, core.ErrBlobNotFound)
	}
	verify(id, e.data, e.crc)
	return e.data, nil
}

// IDs returns all ids in insertion order.
func (m *Memory) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Len returns the number of blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

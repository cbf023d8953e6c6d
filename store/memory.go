// Package store provides cache stores that map cache keys to dex artifacts.
//
// Memory keeps an in-process map of key to artifact path and is intended for
// tests and single-process builds. Local persists artifacts on a core.FS with
// atomic writes and integrity checks on read. Both are safe for concurrent use.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmgilman/go/dexcache/cachekey"
	"github.com/opencontainers/go-digest"
)

// Memory is a map-backed store that records artifact paths produced elsewhere.
type Memory struct {
	mu      sync.RWMutex
	entries map[digest.Digest]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[digest.Digest]string)}
}

// Put records path as the artifact for key, replacing any previous entry.
func (m *Memory) Put(ctx context.Context, key cachekey.Key, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if key.IsZero() {
		return fmt.Errorf("cannot store an entry under the zero key")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.Digest()] = path
	return nil
}

// Exists reports whether an entry is recorded for key.
func (m *Memory) Exists(ctx context.Context, key cachekey.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key.Digest()]
	return ok, nil
}

// Fetch returns the recorded artifact path for key.
func (m *Memory) Fetch(ctx context.Context, key cachekey.Key) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	path, ok := m.entries[key.Digest()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return path, nil
}

// Remove deletes the entry for key. Removing a missing entry is not an error.
func (m *Memory) Remove(_ context.Context, key cachekey.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.Digest())
	return nil
}

// Len returns the number of recorded entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

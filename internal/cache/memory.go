package cache

import (
	"context"
	"sync"
	"time"

	"github.com/webharvest/harvester/internal/content"
)

// DefaultMemoryCapacity bounds the in-process fallback store.
const DefaultMemoryCapacity = 1000

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryBackend is a bounded in-process store used when the remote backend is
// unreachable. Eviction is lazy: an overflowing Set sweeps expired entries
// before inserting, and a Get on an expired entry deletes it and misses.
type MemoryBackend struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	capacity int
	clock    content.Clock
}

// NewMemoryBackend builds a bounded store. A non-positive capacity falls back
// to DefaultMemoryCapacity.
func NewMemoryBackend(capacity int, clock content.Clock) *MemoryBackend {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryBackend{
		entries:  make(map[string]memoryEntry),
		capacity: capacity,
		clock:    clock,
	}
}

// Get returns the value for key, treating expired entries as absent.
func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !m.clock.Now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key with a relative expiry. When the store is at
// capacity it sweeps all expired entries before inserting.
func (m *MemoryBackend) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.capacity {
		m.sweepLocked()
	}
	m.entries[key] = memoryEntry{
		value:     value,
		expiresAt: m.clock.Now().Add(ttl),
	}
	return nil
}

// Len reports the number of live entries, expired ones included until swept.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryBackend) sweepLocked() {
	now := m.clock.Now()
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}

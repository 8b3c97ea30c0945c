// Package cache stores decoded tables by query descriptor key.
package cache

import (
	"context"
	"sync"
	"time"

	"astroquery/internal/components/chrono"
	"astroquery/lib/query"
	"astroquery/lib/table"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("astroquery/lib/cache")

// Entry is one cached result. A zero ExpiresAt never expires.
type Entry struct {
	Table     table.Table
	FetchedAt time.Time
	ExpiresAt time.Time
}

func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Cache maps descriptors to entries. Implementations treat expired entries as absent
// and must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, d query.Descriptor) (Entry, bool)
	Put(ctx context.Context, d query.Descriptor, entry Entry) error
	Invalidate(ctx context.Context, d query.Descriptor) error
	// Purge drops every expired entry and returns how many were removed.
	Purge(ctx context.Context) (int, error)
}

// Memory is an in-process cache, expired entries are deleted lazily on lookup or by Purge.
type Memory struct {
	clock chrono.API

	mutex   sync.RWMutex
	entries map[string]Entry
}

func NewMemory(clock chrono.API) *Memory {
	return &Memory{
		clock:   chrono.OrDefault(clock),
		entries: map[string]Entry{},
	}
}

func (m *Memory) Get(ctx context.Context, d query.Descriptor) (Entry, bool) {
	key := d.Key()

	m.mutex.RLock()
	entry, ok := m.entries[key]
	m.mutex.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if entry.Expired(m.clock.Now()) {
		m.mutex.Lock()
		current, still := m.entries[key]
		if still && current.Expired(m.clock.Now()) {
			delete(m.entries, key)
		}
		m.mutex.Unlock()
		return Entry{}, false
	}
	return entry, true
}

func (m *Memory) Put(ctx context.Context, d query.Descriptor, entry Entry) error {
	m.mutex.Lock()
	m.entries[d.Key()] = entry
	m.mutex.Unlock()
	return nil
}

func (m *Memory) Invalidate(ctx context.Context, d query.Descriptor) error {
	m.mutex.Lock()
	delete(m.entries, d.Key())
	m.mutex.Unlock()
	return nil
}

func (m *Memory) Purge(ctx context.Context) (int, error) {
	now := m.clock.Now()
	removed := 0

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key, entry := range m.entries {
		if entry.Expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len counts stored entries, including expired ones not yet purged.
func (m *Memory) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.entries)
}

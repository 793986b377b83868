package backend

import (
	"context"
	"sync"
	"time"

	"github.com/memokit/memoize/mutex"
)

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

type memoryStats struct {
	hits   int64
	misses int64
}

// memoryBackend is a process-local table. All reads, writes, and
// lazy-expiry deletions serialize through a single mutex; stats live next
// to the entries under the same lock.
type memoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	stats   map[string]*memoryStats
	locks   *mutex.Registry
}

var _ Backend = (*memoryBackend)(nil)

// NewMemory returns a process-local in-memory backend.
func NewMemory() Backend {
	return &memoryBackend{
		entries: make(map[string]memoryEntry),
		stats:   make(map[string]*memoryStats),
		locks:   mutex.NewRegistry(),
	}
}

// get returns the live entry for key, lazily deleting it if expired.
// Caller holds mu.
func (b *memoryBackend) get(key string) (memoryEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(b.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.get(key)
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (b *memoryBackend) GetWithMetadata(_ context.Context, key string) ([]byte, time.Time, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.get(key)
	if !ok {
		return nil, time.Time{}, false, nil
	}
	return e.value, e.createdAt, true, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	b.mu.Lock()
	b.entries[key] = memoryEntry{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	b.mu.Unlock()
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

func (b *memoryBackend) Clear(_ context.Context, pattern string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pattern == "" || pattern == "*" {
		n := len(b.entries)
		b.entries = make(map[string]memoryEntry)
		return n, nil
	}
	var n int
	for key := range b.entries {
		if matchPattern(pattern, key) {
			delete(b.entries, key)
			n++
		}
	}
	return n, nil
}

func (b *memoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for key, e := range b.entries {
		if now.After(e.expiresAt) {
			delete(b.entries, key)
			continue
		}
		if matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (b *memoryBackend) Count(ctx context.Context, pattern string) (int, error) {
	keys, err := b.Keys(ctx, pattern)
	return len(keys), err
}

func (b *memoryBackend) Mutex(key string) mutex.Mutex {
	return b.locks.ForKey("memory:" + key)
}

func (b *memoryBackend) IncrStat(_ context.Context, fnName string, stat Stat) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stats[fnName]
	if !ok {
		s = &memoryStats{}
		b.stats[fnName] = s
	}
	if stat == StatHit {
		s.hits++
	} else {
		s.misses++
	}
	return nil
}

func (b *memoryBackend) Stats(_ context.Context, fnName string) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.stats[fnName]; ok {
		return s.hits, s.misses, nil
	}
	return 0, 0, nil
}

func (b *memoryBackend) ClearStats(_ context.Context, fnName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fnName == "" {
		b.stats = make(map[string]*memoryStats)
	} else {
		delete(b.stats, fnName)
	}
	return nil
}

func (b *memoryBackend) Close() error { return nil }

// Package backend defines the storage contract behind the memoization
// layer and provides its four implementations: in-memory, file (SQLite),
// Redis, and a null passthrough.
//
// Values are opaque bytes; serialization happens above this package so an
// entry written through one backend kind can be read through another.
// Expiry is purely TTL based and checked lazily: an expired entry is
// deleted the next time it is read. Pattern arguments use shell-glob
// syntax (`*`, `?`); the empty pattern selects everything.
package backend

import (
	"context"
	"time"

	"github.com/memokit/memoize/mutex"
)

// Backend kinds accepted by the manager.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindRedis  = "redis"
	KindNull   = "null"
)

// Stat names a per-function counter.
type Stat string

const (
	StatHit  Stat = "hits"
	StatMiss Stat = "misses"
)

// Backend is a key -> (value, created_at, expires_at) store with
// pattern-based bulk operations, per-function hit/miss counters, and
// per-key mutexes for dogpile prevention.
//
// Get and GetWithMetadata report found=false for absent and expired keys
// and opportunistically delete expired entries. Set with ttl <= 0 stores
// an entry that every future read misses. Delete of an absent key is not
// an error. Close is idempotent.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	GetWithMetadata(ctx context.Context, key string) (value []byte, createdAt time.Time, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Clear removes entries matching pattern and returns how many were
	// removed. Keys returns a snapshot of matching, non-expired keys;
	// calling it again re-snapshots. Count is len(Keys(pattern)) but may
	// be computed without materializing the keys.
	Clear(ctx context.Context, pattern string) (int, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Count(ctx context.Context, pattern string) (int, error)

	// Mutex returns a handle on the dogpile lock for key, scoped to this
	// backend. Handles for the same key contend on the same lock.
	Mutex(key string) mutex.Mutex

	IncrStat(ctx context.Context, fnName string, stat Stat) error
	Stats(ctx context.Context, fnName string) (hits, misses int64, err error)
	// ClearStats resets counters for one function, or all functions when
	// fnName is empty.
	ClearStats(ctx context.Context, fnName string) error

	Close() error
}

// queryTimeout bounds each operation against I/O-backed stores so a slow
// or unresponsive store cannot hang callers indefinitely.
const queryTimeout = 5 * time.Second

func queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, queryTimeout)
}

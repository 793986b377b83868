// Package mutex provides per-key mutual exclusion for dogpile prevention.
// Locks here reduce redundant concurrent recomputation; they do not
// guarantee strict single-flight. Acquisition timing out is a normal
// outcome and callers proceed without the lock.
package mutex

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Mutex is a per-key lock. Acquire reports whether the lock was obtained
// within the timeout; a timeout of zero or less means wait until ctx is
// done. Release after a failed or absent Acquire is a no-op, as is a double
// Release.
type Mutex interface {
	Acquire(ctx context.Context, timeout time.Duration) bool
	Release(ctx context.Context)
}

// Noop is a Mutex that always acquires instantly. Used when dogpile
// prevention is disabled or meaningless (null backend).
type Noop struct{}

func (Noop) Acquire(context.Context, time.Duration) bool { return true }
func (Noop) Release(context.Context)                     {}

// Registry hands out process-local mutexes. Two mutexes obtained for the
// same key contend on the same underlying semaphore; first use of a key
// initializes it race-free.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewRegistry returns an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*semaphore.Weighted)}
}

// ForKey returns a mutex handle for the given key.
func (r *Registry) ForKey(key string) Mutex {
	r.mu.Lock()
	sem, ok := r.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		r.locks[key] = sem
	}
	r.mu.Unlock()
	return &localMutex{sem: sem}
}

// localMutex wraps a shared per-key semaphore. The semaphore gives us a
// lock whose acquisition honors both the caller's context and a timeout.
type localMutex struct {
	sem      *semaphore.Weighted
	acquired bool
}

func (m *localMutex) Acquire(ctx context.Context, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	m.acquired = true
	return true
}

func (m *localMutex) Release(context.Context) {
	if m.acquired {
		m.sem.Release(1)
		m.acquired = false
	}
}

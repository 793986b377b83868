// Package config supplies per-scope cache configuration. A scope is an
// isolation namespace (typically one per owning package or tenant): each
// scope can choose its own default backend kind, key prefix, storage
// locations, and lock timeout without affecting any other.
//
// Configuration lives in an explicit Registry object so that independent
// cache universes (per test, per tenant) never share state.
package config

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLockTimeout bounds how long a caller waits on a dogpile lock
// before proceeding without it.
const DefaultLockTimeout = 10 * time.Second

// Config holds the resolved settings for one scope.
type Config struct {
	// Backend is the default backend kind ("memory", "file", "redis",
	// "null") for functions wrapped without an explicit kind.
	Backend string
	// KeyPrefix namespaces every cache key written under this scope.
	KeyPrefix string
	// FileDir is the directory holding file-backend databases.
	FileDir string
	// RedisURL is the shared store address for the redis backend and its
	// distributed locks.
	RedisURL string
	// LockTimeout bounds dogpile lock acquisition.
	LockTimeout time.Duration
}

// Default returns the baseline configuration used when a scope has no
// explicit settings.
func Default() Config {
	return Config{
		Backend:     "memory",
		FileDir:     filepath.Join(os.TempDir(), "memoize"),
		RedisURL:    "redis://localhost:6379/0",
		LockTimeout: DefaultLockTimeout,
	}
}

// Registry maps scopes to configurations and owns the global disable
// switch.
type Registry struct {
	mu       sync.RWMutex
	fallback Config
	scopes   map[string]Config
	disabled atomic.Bool
}

// NewRegistry returns a registry seeded with Default settings.
func NewRegistry() *Registry {
	return &Registry{
		fallback: Default(),
		scopes:   make(map[string]Config),
	}
}

// SetDefault replaces the fallback configuration applied to scopes without
// explicit settings. Zero-value fields keep their current defaults.
func (r *Registry) SetDefault(cfg Config) {
	r.mu.Lock()
	r.fallback = merge(cfg, r.fallback)
	r.mu.Unlock()
}

// Configure sets the configuration for one scope. Zero-value fields
// inherit from the default configuration at lookup time.
func (r *Registry) Configure(scope string, cfg Config) {
	r.mu.Lock()
	r.scopes[scope] = cfg
	r.mu.Unlock()
}

// Get resolves the configuration for a scope, filling unset fields from
// the default configuration.
func (r *Registry) Get(scope string) Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.scopes[scope]; ok {
		return merge(cfg, r.fallback)
	}
	return r.fallback
}

// Disable turns off caching globally: wrapped functions invoke their
// computation directly with no cache interaction at all.
func (r *Registry) Disable() { r.disabled.Store(true) }

// Enable re-enables caching after Disable.
func (r *Registry) Enable() { r.disabled.Store(false) }

// Disabled reports whether caching is globally off.
func (r *Registry) Disabled() bool { return r.disabled.Load() }

// merge returns cfg with zero-value fields replaced from base.
func merge(cfg, base Config) Config {
	if cfg.Backend == "" {
		cfg.Backend = base.Backend
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = base.KeyPrefix
	}
	if cfg.FileDir == "" {
		cfg.FileDir = base.FileDir
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = base.RedisURL
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = base.LockTimeout
	}
	return cfg
}

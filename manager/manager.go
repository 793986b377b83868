// Package manager owns the registry of live backend instances. Instances
// are keyed by (scope, kind, TTL region): different TTL configurations
// never share storage, and a function whose TTL is computed per result
// shares one instance per (scope, kind) under the dynamic sentinel.
//
// Instances are constructed lazily on first request and closed only on an
// explicit clear — never by background collection.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/memokit/memoize/backend"
	"github.com/memokit/memoize/config"
)

// ErrUnknownBackend is returned when a backend kind has no constructor.
// There is no silent fallback: a misconfigured kind fails loudly.
var ErrUnknownBackend = errors.New("unknown backend kind")

// Key identifies one backend instance.
type Key struct {
	Scope string
	Kind  string
	TTL   time.Duration
}

// Instance pairs a registry key with its live backend, for callers that
// iterate (bulk clear).
type Instance struct {
	Key     Key
	Backend backend.Backend
}

// Manager is the single source of truth for live backend instances.
type Manager struct {
	mu       sync.Mutex
	backends map[Key]backend.Backend
	configs  *config.Registry
	log      *zap.Logger
}

// New returns a Manager resolving construction parameters from the given
// configuration registry.
func New(configs *config.Registry, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		backends: make(map[Key]backend.Backend),
		configs:  configs,
		log:      log,
	}
}

// Backend returns the instance for (scope, kind, ttl), constructing and
// registering it on first request. Concurrent first requests for the same
// key construct exactly one instance.
func (m *Manager) Backend(scope, kind string, ttl time.Duration) (backend.Backend, error) {
	key := Key{Scope: scope, Kind: kind, TTL: ttl}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.backends[key]; ok {
		return b, nil
	}
	b, err := m.construct(scope, kind, ttl)
	if err != nil {
		return nil, err
	}
	m.backends[key] = b
	m.log.Debug("created cache backend",
		zap.String("scope", scope), zap.String("kind", kind), zap.Duration("ttl", ttl))
	return b, nil
}

// construct dispatches on kind. Called with mu held.
func (m *Manager) construct(scope, kind string, ttl time.Duration) (backend.Backend, error) {
	cfg := m.configs.Get(scope)
	switch kind {
	case backend.KindMemory:
		return backend.NewMemory(), nil
	case backend.KindFile:
		if err := os.MkdirAll(cfg.FileDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create cache directory %s", cfg.FileDir)
		}
		return backend.NewFile(filepath.Join(cfg.FileDir, fileName(scope, ttl)))
	case backend.KindRedis:
		return backend.NewRedisFromURL(cfg.RedisURL, cfg.LockTimeout)
	case backend.KindNull:
		return backend.NewNull(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", kind)
	}
}

// fileName buckets file-backend databases by TTL so regions get separate
// files, prefixed by scope to keep owners apart.
func fileName(scope string, ttl time.Duration) string {
	secs := int64(ttl / time.Second)
	var name string
	switch {
	case secs < 60:
		name = fmt.Sprintf("cache%dsec.db", secs)
	case secs < 3600:
		name = fmt.Sprintf("cache%dmin.db", secs/60)
	default:
		name = fmt.Sprintf("cache%dhour.db", secs/3600)
	}
	if scope != "" {
		name = scope + "_" + name
	}
	return name
}

// Instances snapshots the live backends matching the filter. An empty
// kinds slice matches every kind; a nil ttl matches every region.
func (m *Manager) Instances(scope string, kinds []string, ttl *time.Duration) []Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Instance
	for key, b := range m.backends {
		if key.Scope != scope {
			continue
		}
		if len(kinds) > 0 && !contains(kinds, key.Kind) {
			continue
		}
		if ttl != nil && key.TTL != *ttl {
			continue
		}
		out = append(out, Instance{Key: key, Backend: b})
	}
	return out
}

// ClearScope closes and drops every instance belonging to one scope.
func (m *Manager) ClearScope(scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for key, b := range m.backends {
		if key.Scope != scope {
			continue
		}
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.backends, key)
	}
	return firstErr
}

// Reset closes and drops every instance.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for key, b := range m.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.backends, key)
	}
	return firstErr
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

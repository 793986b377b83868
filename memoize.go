package memoize

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/memokit/memoize/backend"
	"github.com/memokit/memoize/config"
	"github.com/memokit/memoize/keyformat"
	"github.com/memokit/memoize/manager"
)

// ErrNotFound is returned by Func.Get when no cached value exists for the
// given arguments and no default was provided.
var ErrNotFound = errors.New("no cached value")

// DefaultTTL is the entry lifetime used when a wrapped function does not
// set one.
const DefaultTTL = 5 * time.Minute

// Cache is an isolated memoization universe: its own configuration, its
// own registry of live backend instances. Universes never share state, so
// tests and tenants can each run their own.
type Cache struct {
	configs *config.Registry
	manager *manager.Manager
	log     *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for debug output. Defaults to a no-op
// logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithConfigRegistry supplies a pre-populated configuration registry,
// e.g. one loaded from YAML.
func WithConfigRegistry(reg *config.Registry) Option {
	return func(c *Cache) { c.configs = reg }
}

// New returns an empty cache universe.
func New(opts ...Option) *Cache {
	c := &Cache{}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.configs == nil {
		c.configs = config.NewRegistry()
	}
	c.manager = manager.New(c.configs, c.log)
	return c
}

// Configs exposes the configuration registry for Configure / Disable /
// Enable / Load.
func (c *Cache) Configs() *config.Registry { return c.configs }

// Backend returns the live backend instance for (scope, kind, ttl),
// constructing it if needed. Most callers never need this; it exists for
// direct storage access and operational tooling.
func (c *Cache) Backend(scope, kind string, ttl time.Duration) (backend.Backend, error) {
	return c.manager.Backend(scope, kind, ttl)
}

// Close closes every live backend instance and empties the registry.
func (c *Cache) Close() error {
	return c.manager.Reset()
}

// clearOptions filter a bulk Clear.
type clearOptions struct {
	tag   string
	kind  string
	scope string
	ttl   *time.Duration
}

// ClearOption narrows a bulk Clear.
type ClearOption func(*clearOptions)

// ClearTag restricts clearing to entries carrying the given tag.
func ClearTag(tag string) ClearOption {
	return func(o *clearOptions) { o.tag = tag }
}

// ClearKind restricts clearing to one backend kind. Combined with
// ClearTTL it names a single backend instance, which will be constructed
// if not yet alive — this is how a process that never populated a shared
// cache clears it.
func ClearKind(kind string) ClearOption {
	return func(o *clearOptions) { o.kind = kind }
}

// ClearTTL restricts clearing to one TTL region.
func ClearTTL(ttl time.Duration) ClearOption {
	return func(o *clearOptions) { o.ttl = &ttl }
}

// ClearScope selects the isolation scope to clear. Defaults to the
// default scope.
func ClearScope(scope string) ClearOption {
	return func(o *clearOptions) { o.scope = scope }
}

// Clear removes entries matching the filter across backend instances and
// resets their statistics. It returns the number of entries removed.
func (c *Cache) Clear(ctx context.Context, opts ...ClearOption) (int, error) {
	var o clearOptions
	for _, opt := range opts {
		opt(&o)
	}
	pattern := keyformat.TagPattern(o.tag)

	// Both kind and TTL named: operate on that single instance, creating
	// it when cold so distributed invalidation works from any process.
	if o.kind != "" && o.ttl != nil {
		b, err := c.manager.Backend(o.scope, o.kind, *o.ttl)
		if err != nil {
			return 0, err
		}
		n, err := b.Clear(ctx, pattern)
		if err != nil {
			return n, err
		}
		return n, b.ClearStats(ctx, "")
	}

	kinds := []string{backend.KindMemory, backend.KindFile, backend.KindRedis}
	if o.kind != "" {
		kinds = []string{o.kind}
	}
	var total int
	for _, inst := range c.manager.Instances(o.scope, kinds, o.ttl) {
		n, err := inst.Backend.Clear(ctx, pattern)
		if err != nil {
			return total, err
		}
		total += n
		if err := inst.Backend.ClearStats(ctx, ""); err != nil {
			return total, err
		}
		if n > 0 {
			c.log.Debug("cleared cache entries",
				zap.Int("count", n),
				zap.String("kind", inst.Key.Kind),
				zap.Duration("ttl", inst.Key.TTL))
		}
	}
	return total, nil
}

package memoize

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/memokit/memoize/backend"
	"github.com/memokit/memoize/codec"
	"github.com/memokit/memoize/keyformat"
)

// Fn is the shape of a computation that can be memoized: one argument in,
// one result out, with context for cancellation.
type Fn[A, R any] func(ctx context.Context, arg A) (R, error)

// Entry is what a Validate callback sees: the decoded cached value, when
// it was written, and how old it is.
type Entry struct {
	Value     any
	CreatedAt time.Time
	Age       time.Duration
}

// Info reports cache statistics for one wrapped function.
type Info struct {
	Hits   int64
	Misses int64
	// Size is the number of live entries currently stored for this
	// function.
	Size int
}

// funcConfig is the metadata fixed at wrap time. Immutable afterwards.
type funcConfig struct {
	ttl      time.Duration
	ttlFunc  func(result any) time.Duration
	kind     string
	tag      string
	scope    string
	exclude  []string
	cacheIf  func(result any) bool
	validate func(Entry) bool
}

// FuncOption configures a wrapped function.
type FuncOption func(*funcConfig)

// WithTTL sets the entry lifetime. Zero is legal and means entries expire
// immediately (every read misses). Defaults to DefaultTTL.
func WithTTL(ttl time.Duration) FuncOption {
	return func(fc *funcConfig) { fc.ttl = ttl }
}

// WithTTLFunc derives the lifetime from each result. All entries of a
// function with a dynamic TTL share one backend instance.
func WithTTLFunc(fn func(result any) time.Duration) FuncOption {
	return func(fc *funcConfig) { fc.ttlFunc = fn }
}

// WithBackend picks the backend kind ("memory", "file", "redis", "null").
// Defaults to the scope's configured kind.
func WithBackend(kind string) FuncOption {
	return func(fc *funcConfig) { fc.kind = kind }
}

// WithTag embeds a tag in every key for group invalidation via ClearTag.
func WithTag(tag string) FuncOption {
	return func(fc *funcConfig) { fc.tag = tag }
}

// WithScope places the function in an isolation scope. Defaults to the
// default scope.
func WithScope(scope string) FuncOption {
	return func(fc *funcConfig) { fc.scope = scope }
}

// WithExclude omits the named struct fields or map keys of the argument
// from the cache key.
func WithExclude(names ...string) FuncOption {
	return func(fc *funcConfig) { fc.exclude = names }
}

// WithCacheIf stores a result only when the predicate returns true.
// Uncacheable results are recomputed on every call.
func WithCacheIf(pred func(result any) bool) FuncOption {
	return func(fc *funcConfig) { fc.cacheIf = pred }
}

// WithValidate checks a cached entry before serving it; returning false
// forces recomputation. The stale entry is left in place until the new
// result overwrites it.
func WithValidate(pred func(Entry) bool) FuncOption {
	return func(fc *funcConfig) { fc.validate = pred }
}

// callOptions are per-call controls.
type callOptions struct {
	skip      bool
	overwrite bool
}

// CallOption adjusts a single Call.
type CallOption func(*callOptions)

// Skip bypasses the cache completely for this call: no read, no write, no
// stats.
func Skip() CallOption {
	return func(o *callOptions) { o.skip = true }
}

// Overwrite executes the function and stores its result unconditionally,
// replacing whatever is cached.
func Overwrite() CallOption {
	return func(o *callOptions) { o.overwrite = true }
}

// Func is a memoized function. It is created by Wrap and owns its cache
// metadata exclusively; all manipulation entry points derive keys the same
// way Call does.
type Func[A, R any] struct {
	cache     *Cache
	fn        Fn[A, R]
	name      string
	cfg       funcConfig
	ttlRegion time.Duration
	keygen    *keyformat.Generator
}

// Wrap memoizes fn under the given name. The name is the function's
// identity in keys and statistics and must be stable for the function's
// lifetime. Panics if cache or fn is nil or name is empty.
func Wrap[A, R any](c *Cache, name string, fn Fn[A, R], opts ...FuncOption) *Func[A, R] {
	if c == nil || fn == nil || name == "" {
		panic("memoize: Wrap requires a cache, a name, and a function")
	}
	fc := funcConfig{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(&fc)
	}
	if fc.kind == "" {
		fc.kind = c.configs.Get(fc.scope).Backend
	}
	region := fc.ttl
	if fc.ttlFunc != nil {
		region = keyformat.DynamicTTL
	}
	return &Func[A, R]{
		cache:     c,
		fn:        fn,
		name:      name,
		cfg:       fc,
		ttlRegion: region,
		keygen:    keyformat.New(name, fc.tag, fc.exclude...),
	}
}

// Name returns the function's cache identity.
func (f *Func[A, R]) Name() string { return f.name }

func (f *Func[A, R]) backend() (backend.Backend, error) {
	return f.cache.manager.Backend(f.cfg.scope, f.cfg.kind, f.ttlRegion)
}

func (f *Func[A, R]) key(arg A) string {
	prefix := f.cache.configs.Get(f.cfg.scope).KeyPrefix
	return keyformat.Mangle(f.keygen.Key(arg), prefix, f.ttlRegion)
}

// lookup reads and decodes the entry for key, applying the Validate
// callback. Undecodable entries are deleted and reported as a miss.
func (f *Func[A, R]) lookup(ctx context.Context, b backend.Backend, key string) (R, bool, error) {
	var zero R
	data, createdAt, found, err := b.GetWithMetadata(ctx, key)
	if err != nil || !found {
		return zero, false, err
	}
	var val R
	if err := codec.Unmarshal(data, &val); err != nil {
		_ = b.Delete(ctx, key)
		return zero, false, nil
	}
	if f.cfg.validate != nil {
		entry := Entry{Value: val, CreatedAt: createdAt, Age: time.Since(createdAt)}
		if !f.cfg.validate(entry) {
			return zero, false, nil
		}
	}
	return val, true, nil
}

// store encodes and writes a result if the CacheIf predicate admits it.
// An encoding failure is a programmer error and propagates.
func (f *Func[A, R]) store(ctx context.Context, b backend.Backend, key string, result R) error {
	if f.cfg.cacheIf != nil && !f.cfg.cacheIf(result) {
		return nil
	}
	ttl := f.cfg.ttl
	if f.cfg.ttlFunc != nil {
		ttl = f.cfg.ttlFunc(result)
	}
	data, err := codec.Marshal(result)
	if err != nil {
		return err
	}
	if err := b.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	f.cache.log.Debug("cached result", zap.String("fn", f.name), zap.String("key", key))
	return nil
}

// Call invokes the memoized function: serve a valid cached value, or
// compute under the per-key dogpile lock and store the result. Errors from
// the wrapped function propagate unmodified and nothing is cached for
// them; the miss that triggered the attempt is still counted.
func (f *Func[A, R]) Call(ctx context.Context, arg A, opts ...CallOption) (R, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	if co.skip || f.cache.configs.Disabled() {
		return f.fn(ctx, arg)
	}

	var zero R
	b, err := f.backend()
	if err != nil {
		return zero, err
	}
	key := f.key(arg)

	// Fast path: no lock taken for a hit.
	if !co.overwrite {
		if val, ok, err := f.lookup(ctx, b, key); err != nil {
			return zero, err
		} else if ok {
			_ = b.IncrStat(ctx, f.name, backend.StatHit)
			return val, nil
		}
	}

	// Guarded section. A timed-out acquire degrades to uncoordinated
	// recomputation rather than blocking the caller.
	mu := b.Mutex(key)
	acquired := mu.Acquire(ctx, f.cache.configs.Get(f.cfg.scope).LockTimeout)
	defer func() {
		if acquired {
			mu.Release(ctx)
		}
	}()

	// Re-check: the previous lock holder may have populated the entry
	// while this caller waited.
	if !co.overwrite {
		if val, ok, err := f.lookup(ctx, b, key); err != nil {
			return zero, err
		} else if ok {
			_ = b.IncrStat(ctx, f.name, backend.StatHit)
			return val, nil
		}
	}

	_ = b.IncrStat(ctx, f.name, backend.StatMiss)
	result, err := f.fn(ctx, arg)
	if err != nil {
		return zero, err
	}
	if err := f.store(ctx, b, key, result); err != nil {
		return zero, err
	}
	return result, nil
}

// Get returns the cached value for the given arguments without invoking
// the function. Returns ErrNotFound when absent.
func (f *Func[A, R]) Get(ctx context.Context, arg A) (R, error) {
	var zero R
	b, err := f.backend()
	if err != nil {
		return zero, err
	}
	key := f.key(arg)
	data, found, err := b.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, errors.Wrapf(ErrNotFound, "%s", key)
	}
	var val R
	if err := codec.Unmarshal(data, &val); err != nil {
		_ = b.Delete(ctx, key)
		return zero, errors.Wrapf(ErrNotFound, "%s", key)
	}
	return val, nil
}

// GetOr is Get with a default instead of ErrNotFound.
func (f *Func[A, R]) GetOr(ctx context.Context, arg A, def R) (R, error) {
	val, err := f.Get(ctx, arg)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return val, err
}

// Set force-writes a value for the given arguments without invoking the
// function.
func (f *Func[A, R]) Set(ctx context.Context, arg A, value R) error {
	b, err := f.backend()
	if err != nil {
		return err
	}
	ttl := f.cfg.ttl
	if f.cfg.ttlFunc != nil {
		ttl = f.cfg.ttlFunc(value)
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return err
	}
	return b.Set(ctx, f.key(arg), data, ttl)
}

// Invalidate removes the entry for the given arguments. Note that an
// invalidation racing an in-flight computation for the same key is
// best-effort: the in-flight result may be stored afterwards
// (last-write-wins by wall clock, not by causal order).
func (f *Func[A, R]) Invalidate(ctx context.Context, arg A) error {
	b, err := f.backend()
	if err != nil {
		return err
	}
	return b.Delete(ctx, f.key(arg))
}

// Refresh invalidates the entry and runs the full call protocol, so the
// value is recomputed and re-cached.
func (f *Func[A, R]) Refresh(ctx context.Context, arg A) (R, error) {
	if err := f.Invalidate(ctx, arg); err != nil {
		var zero R
		return zero, err
	}
	return f.Call(ctx, arg)
}

// Original invokes the wrapped computation directly: no cache read, no
// write, no statistics.
func (f *Func[A, R]) Original(ctx context.Context, arg A) (R, error) {
	return f.fn(ctx, arg)
}

// Info returns this function's hit/miss counters and its current number
// of live entries.
func (f *Func[A, R]) Info(ctx context.Context) (Info, error) {
	b, err := f.backend()
	if err != nil {
		return Info{}, err
	}
	hits, misses, err := b.Stats(ctx, f.name)
	if err != nil {
		return Info{}, err
	}
	prefix := f.cache.configs.Get(f.cfg.scope).KeyPrefix
	size, err := b.Count(ctx, keyformat.FnPattern(prefix, f.name))
	if err != nil {
		return Info{}, err
	}
	return Info{Hits: hits, Misses: misses, Size: size}, nil
}

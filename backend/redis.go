package backend

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/memokit/memoize/codec"
	"github.com/memokit/memoize/mutex"
)

// statsKeyPrefix namespaces per-function counters away from cache entries
// so entry patterns never select counter keys.
const statsKeyPrefix = "stats:"

// lockKeyPrefix namespaces distributed dogpile locks.
const lockKeyPrefix = "lock:"

// redisBackend stores each entry as a single blob packing the value with
// its write timestamp, under a server-side TTL — expiry is enforced by
// Redis itself. Stats are hashes under statsKeyPrefix; pattern operations
// map to SCAN with MATCH, whose glob dialect matches the */? subset used
// here.
type redisBackend struct {
	client      redis.UniversalClient
	lockTimeout time.Duration
	ownsClient  bool
	once        sync.Once
	closeErr    error
}

var _ Backend = (*redisBackend)(nil)

// NewRedis returns a backend on an existing client. The caller keeps
// ownership of the client; Close will not touch it.
func NewRedis(client redis.UniversalClient, lockTimeout time.Duration) Backend {
	return &redisBackend{client: client, lockTimeout: lockTimeout}
}

// NewRedisFromURL dials a client from a redis:// URL. The backend owns the
// client and closes it on Close.
func NewRedisFromURL(url string, lockTimeout time.Duration) (Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "parse redis url %s", url)
	}
	return &redisBackend{
		client:      redis.NewClient(opts),
		lockTimeout: lockTimeout,
		ownsClient:  true,
	}, nil
}

// read fetches and unpacks an entry. A blob that fails to unpack is
// deleted and treated as a miss so format changes never crash readers.
func (b *redisBackend) read(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	data, err := b.client.Get(qctx, key).Bytes()
	if err == redis.Nil {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, errors.Wrap(err, "read cache entry")
	}
	value, createdAt, err := codec.UnpackEnvelope(data)
	if err != nil {
		_ = b.client.Del(qctx, key).Err()
		return nil, time.Time{}, false, nil
	}
	return value, createdAt, true, nil
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, found, err := b.read(ctx, key)
	return value, found, err
}

func (b *redisBackend) GetWithMetadata(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	return b.read(ctx, key)
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	if ttl <= 0 {
		// Zero TTL means every future read misses; Redis cannot express an
		// already-expired entry, so store nothing and drop any previous one.
		return errors.Wrap(b.client.Del(qctx, key).Err(), "write cache entry")
	}
	packed, err := codec.PackEnvelope(value, time.Now())
	if err != nil {
		return errors.Wrap(err, "pack cache entry")
	}
	return errors.Wrap(b.client.Set(qctx, key, packed, ttl).Err(), "write cache entry")
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	return errors.Wrap(b.client.Del(qctx, key).Err(), "delete cache entry")
}

// entryKey reports whether a scanned key is a cache entry rather than a
// counter or lock, so the match-all pattern never touches bookkeeping.
func entryKey(key string) bool {
	return !strings.HasPrefix(key, statsKeyPrefix) && !strings.HasPrefix(key, lockKeyPrefix)
}

func (b *redisBackend) Clear(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = "*"
	}
	var n int
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if !entryKey(iter.Val()) {
			continue
		}
		if err := b.client.Del(ctx, iter.Val()).Err(); err != nil {
			return n, errors.Wrap(err, "clear cache entries")
		}
		n++
	}
	return n, errors.Wrap(iter.Err(), "clear cache entries")
}

func (b *redisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if !entryKey(iter.Val()) {
			continue
		}
		keys = append(keys, iter.Val())
	}
	return keys, errors.Wrap(iter.Err(), "list cache keys")
}

func (b *redisBackend) Count(ctx context.Context, pattern string) (int, error) {
	keys, err := b.Keys(ctx, pattern)
	return len(keys), err
}

func (b *redisBackend) Mutex(key string) mutex.Mutex {
	return mutex.NewRedis(b.client, lockKeyPrefix+key, b.lockTimeout)
}

func (b *redisBackend) IncrStat(ctx context.Context, fnName string, stat Stat) error {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	err := b.client.HIncrBy(qctx, statsKeyPrefix+fnName, string(stat), 1).Err()
	return errors.Wrap(err, "increment cache stat")
}

func (b *redisBackend) Stats(ctx context.Context, fnName string) (int64, int64, error) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	data, err := b.client.HGetAll(qctx, statsKeyPrefix+fnName).Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "read cache stats")
	}
	var hits, misses int64
	if v, ok := data[string(StatHit)]; ok {
		hits, _ = parseInt(v)
	}
	if v, ok := data[string(StatMiss)]; ok {
		misses, _ = parseInt(v)
	}
	return hits, misses, nil
}

func (b *redisBackend) ClearStats(ctx context.Context, fnName string) error {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	if fnName != "" {
		return errors.Wrap(b.client.Del(qctx, statsKeyPrefix+fnName).Err(), "clear cache stats")
	}
	iter := b.client.Scan(ctx, 0, statsKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := b.client.Del(ctx, iter.Val()).Err(); err != nil {
			return errors.Wrap(err, "clear cache stats")
		}
	}
	return errors.Wrap(iter.Err(), "clear cache stats")
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func (b *redisBackend) Close() error {
	b.once.Do(func() {
		if b.ownsClient {
			b.closeErr = b.client.Close()
		}
	})
	return b.closeErr
}

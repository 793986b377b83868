package backend

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/memokit/memoize/mutex"
)

// fileBackend stores entries in a SQLite database: one table for entries
// (indexed on expires_at) and one for per-function counters. WAL mode plus
// a busy timeout let several processes share the same file. Expired rows
// are deleted synchronously when a read encounters them; CleanupExpired
// sweeps the rest on demand.
type fileBackend struct {
	db    *sql.DB
	path  string
	locks *mutex.Registry
	once  sync.Once
}

var _ Backend = (*fileBackend)(nil)

// NewFile returns a file backend at the given path. An empty path uses an
// in-memory database.
func NewFile(path string) (Backend, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open cache database %s", path)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "configure cache database %s", path)
		}
	}
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at)`,
		`CREATE TABLE IF NOT EXISTS cache_stats (
			fn_name TEXT PRIMARY KEY,
			hits INTEGER NOT NULL DEFAULT 0,
			misses INTEGER NOT NULL DEFAULT 0
		)`,
	} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "initialize cache database %s", path)
		}
	}
	return &fileBackend{db: db, path: path, locks: mutex.NewRegistry()}, nil
}

func (b *fileBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, found, err := b.GetWithMetadata(ctx, key)
	return value, found, err
}

func (b *fileBackend) GetWithMetadata(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	var value []byte
	var createdAt, expiresAt int64
	err := b.db.QueryRowContext(qctx,
		`SELECT value, created_at, expires_at FROM cache WHERE key = ?`, key,
	).Scan(&value, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, errors.Wrap(err, "read cache entry")
	}
	if time.Now().UnixNano() > expiresAt {
		_, _ = b.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
		return nil, time.Time{}, false, nil
	}
	return value, time.Unix(0, createdAt), true, nil
}

func (b *fileBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	now := time.Now()
	_, err := b.db.ExecContext(qctx,
		`INSERT INTO cache (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		key, value, now.UnixNano(), now.Add(ttl).UnixNano(),
	)
	return errors.Wrap(err, "write cache entry")
}

func (b *fileBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	_, err := b.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
	return errors.Wrap(err, "delete cache entry")
}

func (b *fileBackend) Clear(ctx context.Context, pattern string) (int, error) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	var res sql.Result
	var err error
	if pattern == "" || pattern == "*" {
		res, err = b.db.ExecContext(qctx, `DELETE FROM cache`)
	} else {
		// SQLite GLOB shares the */? semantics used by every other variant.
		res, err = b.db.ExecContext(qctx, `DELETE FROM cache WHERE key GLOB ?`, pattern)
	}
	if err != nil {
		return 0, errors.Wrap(err, "clear cache entries")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "clear cache entries")
}

func (b *fileBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	now := time.Now().UnixNano()
	var rows *sql.Rows
	var err error
	if pattern == "" || pattern == "*" {
		rows, err = b.db.QueryContext(qctx, `SELECT key FROM cache WHERE expires_at > ?`, now)
	} else {
		rows, err = b.db.QueryContext(qctx,
			`SELECT key FROM cache WHERE key GLOB ? AND expires_at > ?`, pattern, now)
	}
	if err != nil {
		return nil, errors.Wrap(err, "list cache keys")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "list cache keys")
		}
		keys = append(keys, key)
	}
	return keys, errors.Wrap(rows.Err(), "list cache keys")
}

func (b *fileBackend) Count(ctx context.Context, pattern string) (int, error) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	now := time.Now().UnixNano()
	var n int
	var err error
	if pattern == "" || pattern == "*" {
		err = b.db.QueryRowContext(qctx,
			`SELECT COUNT(*) FROM cache WHERE expires_at > ?`, now).Scan(&n)
	} else {
		err = b.db.QueryRowContext(qctx,
			`SELECT COUNT(*) FROM cache WHERE key GLOB ? AND expires_at > ?`, pattern, now).Scan(&n)
	}
	return n, errors.Wrap(err, "count cache keys")
}

// CleanupExpired removes every expired row and returns how many were
// deleted. Not part of the call protocol; intended for periodic
// maintenance from outside.
func (b *fileBackend) CleanupExpired(ctx context.Context) (int, error) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	res, err := b.db.ExecContext(qctx,
		`DELETE FROM cache WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, "cleanup expired entries")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "cleanup expired entries")
}

func (b *fileBackend) Mutex(key string) mutex.Mutex {
	return b.locks.ForKey("file:" + b.path + ":" + key)
}

func (b *fileBackend) IncrStat(ctx context.Context, fnName string, stat Stat) error {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	var err error
	if stat == StatHit {
		_, err = b.db.ExecContext(qctx,
			`INSERT INTO cache_stats (fn_name, hits, misses) VALUES (?, 1, 0)
			ON CONFLICT(fn_name) DO UPDATE SET hits = hits + 1`, fnName)
	} else {
		_, err = b.db.ExecContext(qctx,
			`INSERT INTO cache_stats (fn_name, hits, misses) VALUES (?, 0, 1)
			ON CONFLICT(fn_name) DO UPDATE SET misses = misses + 1`, fnName)
	}
	return errors.Wrap(err, "increment cache stat")
}

func (b *fileBackend) Stats(ctx context.Context, fnName string) (int64, int64, error) {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	var hits, misses int64
	err := b.db.QueryRowContext(qctx,
		`SELECT hits, misses FROM cache_stats WHERE fn_name = ?`, fnName,
	).Scan(&hits, &misses)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return hits, misses, errors.Wrap(err, "read cache stats")
}

func (b *fileBackend) ClearStats(ctx context.Context, fnName string) error {
	qctx, cancel := queryCtx(ctx)
	defer cancel()
	var err error
	if fnName == "" {
		_, err = b.db.ExecContext(qctx, `DELETE FROM cache_stats`)
	} else {
		_, err = b.db.ExecContext(qctx, `DELETE FROM cache_stats WHERE fn_name = ?`, fnName)
	}
	return errors.Wrap(err, "clear cache stats")
}

func (b *fileBackend) Close() error {
	var err error
	b.once.Do(func() {
		err = b.db.Close()
	})
	return err
}

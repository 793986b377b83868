package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T) Backend {
	t.Helper()
	b, err := NewFile(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestFileSetGet(t *testing.T) {
	ctx := context.Background()
	b := newTestFile(t)

	_, found, err := b.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
	val, createdAt, found, err := b.GetWithMetadata(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)
	assert.WithinDuration(t, time.Now(), createdAt, time.Second)
}

func TestFileUpsertReplacesValue(t *testing.T) {
	ctx := context.Background()
	b := newTestFile(t)

	assert.NoError(t, b.Set(ctx, "k", []byte("old"), time.Minute))
	assert.NoError(t, b.Set(ctx, "k", []byte("new"), time.Minute))
	val, found, err := b.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("new"), val)
}

func TestFileExpiry(t *testing.T) {
	ctx := context.Background()
	b := newTestFile(t)

	assert.NoError(t, b.Set(ctx, "k", []byte("v"), 50*time.Millisecond))
	time.Sleep(60 * time.Millisecond)
	_, found, err := b.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)

	// The expired row was deleted on read.
	n, err := b.Count(ctx, "")
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestFileZeroTTL(t *testing.T) {
	ctx := context.Background()
	b := newTestFile(t)

	assert.NoError(t, b.Set(ctx, "k", []byte("v"), 0))
	_, found, err := b.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestFileGlobClear(t *testing.T) {
	ctx := context.Background()
	b := newTestFile(t)

	assert.NoError(t, b.Set(ctx, "user:1", []byte("a"), time.Minute))
	assert.NoError(t, b.Set(ctx, "user:2", []byte("b"), time.Minute))
	assert.NoError(t, b.Set(ctx, "other:1", []byte("c"), time.Minute))

	n, err := b.Clear(ctx, "user:*")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := b.Keys(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"other:1"}, keys)
}

func TestFileCleanupExpired(t *testing.T) {
	ctx := context.Background()
	b := newTestFile(t)

	assert.NoError(t, b.Set(ctx, "dead1", []byte("a"), 0))
	assert.NoError(t, b.Set(ctx, "dead2", []byte("b"), 0))
	assert.NoError(t, b.Set(ctx, "live", []byte("c"), time.Minute))

	sweeper, ok := b.(interface {
		CleanupExpired(context.Context) (int, error)
	})
	require.True(t, ok)
	n, err := sweeper.CleanupExpired(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	_, found, err := b.Get(ctx, "live")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestFileStatsUpsert(t *testing.T) {
	ctx := context.Background()
	b := newTestFile(t)

	assert.NoError(t, b.IncrStat(ctx, "fn", StatMiss))
	assert.NoError(t, b.IncrStat(ctx, "fn", StatHit))
	assert.NoError(t, b.IncrStat(ctx, "fn", StatHit))
	hits, misses, err := b.Stats(ctx, "fn")
	assert.NoError(t, err)
	assert.EqualValues(t, 2, hits)
	assert.EqualValues(t, 1, misses)

	hits, misses, err = b.Stats(ctx, "unknown")
	assert.NoError(t, err)
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestFileStatsPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	b, err := NewFile(path)
	require.NoError(t, err)
	assert.NoError(t, b.Set(ctx, "k", []byte("v"), time.Hour))
	assert.NoError(t, b.IncrStat(ctx, "fn", StatHit))
	assert.NoError(t, b.Close())

	b, err = NewFile(path)
	require.NoError(t, err)
	defer b.Close()
	val, found, err := b.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)
	hits, _, err := b.Stats(ctx, "fn")
	assert.NoError(t, err)
	assert.EqualValues(t, 1, hits)
}

func TestFileCloseIdempotent(t *testing.T) {
	b := newTestFile(t)
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

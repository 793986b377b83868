package memoize

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := New()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type countingFn struct {
	calls atomic.Int64
}

func (cf *countingFn) double(_ context.Context, n int) (int, error) {
	cf.calls.Add(1)
	return n * 2, nil
}

func TestCallCachesResult(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double)

	v, err := f.Call(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = f.Call(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.EqualValues(t, 1, cf.calls.Load())
}

func TestCallDistinctArgs(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double)

	for _, n := range []int{1, 2, 3} {
		v, err := f.Call(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, n*2, v)
	}
	assert.EqualValues(t, 3, cf.calls.Load())

	info, err := f.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Size)
}

func TestDogpileSingleFlight(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	f := Wrap(c, "slow", func(ctx context.Context, n int) (int, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return n * 2, nil
	})

	const workers = 5
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			v, err := f.Call(ctx, 7)
			if err != nil {
				return err
			}
			if v != 14 {
				return errors.Newf("got %d", v)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, calls.Load())

	info, err := f.Info(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.Misses)
	assert.EqualValues(t, workers-1, info.Hits)
}

func TestErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	boom := errors.New("boom")
	f := Wrap(c, "flaky", func(ctx context.Context, n int) (int, error) {
		if calls.Add(1) == 1 {
			return 0, boom
		}
		return n * 2, nil
	})

	_, err := f.Call(ctx, 1)
	assert.True(t, errors.Is(err, boom))

	v, err := f.Call(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestZeroTTLAlwaysRecomputes(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double, WithTTL(0))

	for i := 0; i < 3; i++ {
		v, err := f.Call(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, 10, v)
	}
	assert.EqualValues(t, 3, cf.calls.Load())
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double, WithTTL(40*time.Millisecond))

	_, err := f.Call(ctx, 5)
	require.NoError(t, err)
	_, err = f.Call(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cf.calls.Load())

	time.Sleep(60 * time.Millisecond)
	_, err = f.Call(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, cf.calls.Load())
}

func TestDynamicTTL(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	f := Wrap(c, "volatile", func(ctx context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	}, WithTTLFunc(func(result any) time.Duration {
		if result.(int) < 0 {
			return 0
		}
		return time.Minute
	}))

	_, err := f.Call(ctx, 1)
	require.NoError(t, err)
	_, err = f.Call(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	// Negative results expire immediately, so every call recomputes.
	_, err = f.Call(ctx, -1)
	require.NoError(t, err)
	_, err = f.Call(ctx, -1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCacheIf(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	f := Wrap(c, "lookup", func(ctx context.Context, k string) (string, error) {
		calls.Add(1)
		if k == "missing" {
			return "", nil
		}
		return "value-" + k, nil
	}, WithCacheIf(func(result any) bool { return result.(string) != "" }))

	for i := 0; i < 2; i++ {
		v, err := f.Call(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, v)
	}
	assert.EqualValues(t, 2, calls.Load())

	for i := 0; i < 2; i++ {
		v, err := f.Call(ctx, "present")
		require.NoError(t, err)
		assert.Equal(t, "value-present", v)
	}
	assert.EqualValues(t, 3, calls.Load())
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	accept := atomic.Bool{}
	accept.Store(true)
	f := Wrap(c, "double", func(ctx context.Context, n int) (int, error) {
		calls.Add(1)
		return n * 2, nil
	}, WithValidate(func(e Entry) bool {
		assert.False(t, e.CreatedAt.IsZero())
		return accept.Load()
	}))

	_, err := f.Call(ctx, 3)
	require.NoError(t, err)
	_, err = f.Call(ctx, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	accept.Store(false)
	_, err = f.Call(ctx, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestSkipBypassesCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double)

	_, err := f.Call(ctx, 4, Skip())
	require.NoError(t, err)
	assert.EqualValues(t, 1, cf.calls.Load())

	// Nothing was cached or counted.
	_, err = f.Get(ctx, 4)
	assert.True(t, errors.Is(err, ErrNotFound))
	info, err := f.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.Hits)
	assert.Zero(t, info.Misses)
}

func TestOverwriteReplacesEntry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	f := Wrap(c, "seq", func(ctx context.Context, n int) (int, error) {
		return n + int(calls.Add(1)), nil
	})

	v, err := f.Call(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 101, v)

	v, err = f.Call(ctx, 100, Overwrite())
	require.NoError(t, err)
	assert.Equal(t, 102, v)

	v, err = f.Call(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 102, v)
}

func TestGetAndGetOr(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double)

	_, err := f.Get(ctx, 9)
	assert.True(t, errors.Is(err, ErrNotFound))

	v, err := f.GetOr(ctx, 9, -1)
	require.NoError(t, err)
	assert.Equal(t, -1, v)
	assert.Zero(t, cf.calls.Load())

	_, err = f.Call(ctx, 9)
	require.NoError(t, err)
	v, err = f.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 18, v)
}

func TestSetWithoutInvocation(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double)

	require.NoError(t, f.Set(ctx, 6, 999))
	v, err := f.Call(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 999, v)
	assert.Zero(t, cf.calls.Load())
}

func TestInvalidateAndRefresh(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double)

	_, err := f.Call(ctx, 8)
	require.NoError(t, err)

	require.NoError(t, f.Invalidate(ctx, 8))
	_, err = f.Get(ctx, 8)
	assert.True(t, errors.Is(err, ErrNotFound))

	v, err := f.Refresh(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 16, v)
	assert.EqualValues(t, 2, cf.calls.Load())
}

func TestOriginalBypassesEverything(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double)

	v, err := f.Original(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	_, err = f.Get(ctx, 2)
	assert.True(t, errors.Is(err, ErrNotFound))
}

type userQuery struct {
	ID    int
	Trace string
}

type user struct {
	ID    int
	Name  string
	Roles []string
	Meta  map[string]string
}

func TestStructArgumentsAndValues(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	f := Wrap(c, "get_user", func(ctx context.Context, q userQuery) (user, error) {
		calls.Add(1)
		return user{
			ID:    q.ID,
			Name:  "alice",
			Roles: []string{"admin", "ops"},
			Meta:  map[string]string{"team": "core"},
		}, nil
	}, WithExclude("Trace"))

	want := user{ID: 5, Name: "alice", Roles: []string{"admin", "ops"}, Meta: map[string]string{"team": "core"}}

	got, err := f.Call(ctx, userQuery{ID: 5, Trace: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Trace is excluded from the key, so this is the same entry.
	got, err = f.Call(ctx, userQuery{ID: 5, Trace: "req-2"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCorruptedEntryRecomputed(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var cf countingFn
	f := Wrap(c, "double", cf.double)

	_, err := f.Call(ctx, 3)
	require.NoError(t, err)

	b, err := f.backend()
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, f.key(3), []byte{0xc1, 0xff, 0x00}, time.Minute))

	v, err := f.Call(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, v)
	assert.EqualValues(t, 2, cf.calls.Load())

	// The corrupt entry was replaced by a clean one.
	v, err = f.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, v)
}

func TestScopesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	fa := Wrap(c, "answer", func(ctx context.Context, _ int) (string, error) {
		return "from-a", nil
	}, WithScope("a"))
	fb := Wrap(c, "answer", func(ctx context.Context, _ int) (string, error) {
		return "from-b", nil
	}, WithScope("b"))

	va, err := fa.Call(ctx, 1)
	require.NoError(t, err)
	vb, err := fb.Call(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "from-a", va)
	assert.Equal(t, "from-b", vb)

	va, err = fa.Call(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "from-a", va)
}

func TestWrapPanicsOnBadInput(t *testing.T) {
	c := newTestCache(t)
	assert.Panics(t, func() { Wrap[int, int](c, "f", nil) })
	assert.Panics(t, func() {
		Wrap(c, "", func(ctx context.Context, n int) (int, error) { return n, nil })
	})
	assert.Panics(t, func() {
		Wrap[int, int](nil, "f", func(ctx context.Context, n int) (int, error) { return n, nil })
	})
}

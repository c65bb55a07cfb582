package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constLoader(val string, calls *atomic.Int64) Loader {
	return func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(val), nil
	}
}

func TestCacheFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemory())
	key := Key{Namespace: "User", Fingerprint: "q1"}
	var calls atomic.Int64

	val, err := c.Fetch(ctx, key, nil, constLoader("rows", &calls))
	require.NoError(t, err)
	assert.Equal(t, []byte("rows"), val)
	assert.EqualValues(t, 1, calls.Load())

	// Second read is served from cache.
	val, err = c.Fetch(ctx, key, nil, constLoader("rows", &calls))
	require.NoError(t, err)
	assert.Equal(t, []byte("rows"), val)
	assert.EqualValues(t, 1, calls.Load())

	snap := c.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.Hits)
	assert.EqualValues(t, 1, snap.Misses)
	assert.EqualValues(t, 1, snap.Writes)
}

func TestCacheOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemory(), WithPolicy(CacheOnly))
	key := Key{Namespace: "User", Fingerprint: "q1"}
	var calls atomic.Int64

	_, err := c.Fetch(ctx, key, nil, constLoader("rows", &calls))
	assert.ErrorIs(t, err, ErrMiss)
	assert.Zero(t, calls.Load(), "cache-only must never call the loader")
}

func TestNetworkOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemory()
	c := New(backend, WithPolicy(NetworkOnly))
	key := Key{Namespace: "User", Fingerprint: "q1"}
	var calls atomic.Int64

	for range 2 {
		val, err := c.Fetch(ctx, key, nil, constLoader("rows", &calls))
		require.NoError(t, err)
		assert.Equal(t, []byte("rows"), val)
	}
	assert.EqualValues(t, 2, calls.Load())
	// The cache is still refreshed for other readers.
	_, ok, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemory(), WithPolicy(NetworkFirst))
	key := Key{Namespace: "User", Fingerprint: "q1"}
	var calls atomic.Int64

	_, err := c.Fetch(ctx, key, nil, constLoader("rows", &calls))
	require.NoError(t, err)

	// Database down: the cached value is served instead.
	boom := errors.New("connection refused")
	val, err := c.Fetch(ctx, key, nil, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("rows"), val)

	// No cached value and a failing load surfaces the error.
	_, err = c.Fetch(ctx, Key{Namespace: "User", Fingerprint: "other"}, nil,
		func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestStaleWhileRevalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemory(WithGrace(time.Hour))
	c := New(backend, WithPolicy(StaleWhileRevalidate), WithTTL(time.Minute), WithStaleCap(time.Hour))
	key := Key{Namespace: "User", Fingerprint: "q1"}

	// Seed an entry that is already past TTL but within the stale cap.
	require.NoError(t, backend.Set(ctx, key, &Entry{
		Value:     []byte("old"),
		CreatedAt: time.Now().Add(-2 * time.Minute),
		TTL:       time.Minute,
	}))

	refreshed := make(chan struct{})
	val, err := c.Fetch(ctx, key, nil, func(context.Context) ([]byte, error) {
		defer close(refreshed)
		return []byte("new"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), val, "stale value served immediately")

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("background revalidation never ran")
	}
	assert.Eventually(t, func() bool {
		e, ok, _ := backend.Get(ctx, key)
		return ok && string(e.Value) == "new"
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, c.Metrics().Snapshot().Stale)
}

func TestStaleBeyondCapLoadsSynchronously(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemory(WithGrace(24 * time.Hour))
	c := New(backend, WithPolicy(StaleWhileRevalidate), WithTTL(time.Minute), WithStaleCap(time.Minute))
	key := Key{Namespace: "User", Fingerprint: "q1"}
	require.NoError(t, backend.Set(ctx, key, &Entry{
		Value:     []byte("ancient"),
		CreatedAt: time.Now().Add(-time.Hour),
		TTL:       time.Minute,
	}))

	var calls atomic.Int64
	val, err := c.Fetch(ctx, key, nil, constLoader("fresh", &calls))
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), val)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSingleFlightExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemory())
	key := Key{Namespace: "User", Fingerprint: "q1"}

	var calls atomic.Int64
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("rows"), nil
	}

	const readers = 16
	var wg sync.WaitGroup
	results := make([][]byte, readers)
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := c.Fetch(ctx, key, nil, load)
			assert.NoError(t, err)
			results[i] = val
		}()
	}
	// Give all readers time to join the flight, then let it finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "concurrent readers share one load")
	for _, r := range results {
		assert.Equal(t, []byte("rows"), r)
	}
}

func TestFetchCanceledWhileWaiting(t *testing.T) {
	t.Parallel()
	c := New(NewMemory())
	key := Key{Namespace: "User", Fingerprint: "q1"}

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = c.Fetch(context.Background(), key, nil, func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("rows"), nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, key, nil, func(context.Context) ([]byte, error) {
		return []byte("rows"), nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestInvalidateWriteThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemory()
	c := New(backend)
	require.NoError(t, backend.Set(ctx, Key{"User", "a"},
		&Entry{CreatedAt: time.Now(), Tags: []string{EntityTag("User")}}))

	require.NoError(t, c.Invalidate(ctx, EntityTag("User")))
	n, err := backend.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.EqualValues(t, 1, c.Metrics().Snapshot().Deletes)
}

func TestInvalidateDelayedBatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemory()
	c := New(backend, WithWritePolicy(WriteDelayed), WithFlushInterval(10*time.Millisecond))
	defer c.Close()
	require.NoError(t, backend.Set(ctx, Key{"User", "a"},
		&Entry{CreatedAt: time.Now(), Tags: []string{EntityTag("User")}}))

	require.NoError(t, c.Invalidate(ctx, EntityTag("User")))
	// Not applied synchronously.
	n, err := backend.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Eventually(t, func() bool {
		n, _ := backend.Len(ctx)
		return n == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInvalidateWriteBackFlushesOnClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemory()
	c := New(backend, WithWritePolicy(WriteBack))
	require.NoError(t, backend.Set(ctx, Key{"User", "a"},
		&Entry{CreatedAt: time.Now(), Tags: []string{EntityTag("User")}}))

	require.NoError(t, c.Invalidate(ctx, EntityTag("User")))
	n, err := backend.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "write-back holds the invalidation")

	require.NoError(t, c.Close())
	n, err = backend.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, c.Close(), "double close is a no-op")
}

func TestInvalidateBatchCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemory()
	c := New(backend, WithWritePolicy(WriteBack), WithBatchCap(2))
	require.NoError(t, backend.Set(ctx, Key{"User", "a"},
		&Entry{CreatedAt: time.Now(), Tags: []string{RowTag("User", 1)}}))
	require.NoError(t, backend.Set(ctx, Key{"User", "b"},
		&Entry{CreatedAt: time.Now(), Tags: []string{RowTag("User", 2)}}))

	require.NoError(t, c.Invalidate(ctx, RowTag("User", 1)))
	require.NoError(t, c.Invalidate(ctx, RowTag("User", 2)))

	// The full batch forced a flush without Close.
	n, err := backend.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

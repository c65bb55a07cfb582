package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ReadPolicy decides how a read consults the cache and the database.
type ReadPolicy int

const (
	// CacheFirst returns a fresh cached value, loading only on miss.
	CacheFirst ReadPolicy = iota
	// NetworkFirst always loads; the cache is a fallback on failure.
	NetworkFirst
	// CacheOnly never loads; a miss is ErrMiss.
	CacheOnly
	// NetworkOnly always loads and refreshes the cache.
	NetworkOnly
	// StaleWhileRevalidate returns a stale value within the stale cap
	// and refreshes it in the background.
	StaleWhileRevalidate
)

func (p ReadPolicy) String() string {
	switch p {
	case NetworkFirst:
		return "network-first"
	case CacheOnly:
		return "cache-only"
	case NetworkOnly:
		return "network-only"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "cache-first"
	}
}

// WritePolicy decides when invalidations triggered by mutations reach
// the backend.
type WritePolicy int

const (
	// WriteThrough invalidates synchronously with the mutation.
	WriteThrough WritePolicy = iota
	// WriteBack batches invalidation tags until Flush, Close or a full
	// batch forces them out.
	WriteBack
	// WriteDelayed batches like WriteBack and additionally flushes on
	// an interval.
	WriteDelayed
)

// Loader produces the value for a key when the cache cannot.
type Loader func(ctx context.Context) ([]byte, error)

// Cache combines a Backend with read/write policies, single-flight
// loading and metrics.
type Cache struct {
	backend Backend
	group   singleflight.Group
	metrics Metrics
	log     *slog.Logger

	policy   ReadPolicy
	write    WritePolicy
	ttl      time.Duration
	staleCap time.Duration

	flushEvery time.Duration
	batchCap   int

	mu      sync.Mutex
	pending map[string]bool
	stop    chan struct{}
	done    sync.WaitGroup
	stopped bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithPolicy sets the default read policy.
func WithPolicy(p ReadPolicy) Option {
	return func(c *Cache) { c.policy = p }
}

// WithTTL sets the entry lifetime. Zero means entries never expire.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithStaleCap bounds how far past TTL StaleWhileRevalidate may serve
// an entry.
func WithStaleCap(d time.Duration) Option {
	return func(c *Cache) { c.staleCap = d }
}

// WithWritePolicy sets how mutation invalidations are applied.
func WithWritePolicy(p WritePolicy) Option {
	return func(c *Cache) { c.write = p }
}

// WithFlushInterval sets the WriteDelayed flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Cache) { c.flushEvery = d }
}

// WithBatchCap flushes the WriteDelayed batch early once it holds
// this many tags.
func WithBatchCap(n int) Option {
	return func(c *Cache) { c.batchCap = n }
}

// WithCacheLogger sets the structured logger.
func WithCacheLogger(log *slog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// New returns a Cache over the backend. Close must be called when the
// write policy is WriteDelayed.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend:    backend,
		log:        slog.Default(),
		ttl:        5 * time.Minute,
		staleCap:   time.Minute,
		flushEvery: time.Second,
		batchCap:   256,
		pending:    map[string]bool{},
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.write == WriteDelayed {
		c.done.Add(1)
		go c.flushLoop()
	}
	return c
}

// Metrics returns the live counters.
func (c *Cache) Metrics() *Metrics { return &c.metrics }

// Fetch returns the value for key under the cache's read policy,
// calling load at most once per key across concurrent callers.
func (c *Cache) Fetch(ctx context.Context, key Key, tags []string, load Loader) ([]byte, error) {
	switch c.policy {
	case NetworkOnly:
		return c.loadAndStore(ctx, key, tags, load)
	case CacheOnly:
		e, ok, err := c.lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok || e.Expired(time.Now()) {
			c.metrics.miss()
			return nil, ErrMiss
		}
		c.metrics.hit()
		return e.Value, nil
	case NetworkFirst:
		val, err := c.loadAndStore(ctx, key, tags, load)
		if err == nil {
			return val, nil
		}
		if e, ok, lerr := c.lookup(ctx, key); lerr == nil && ok {
			c.metrics.hit()
			c.log.WarnContext(ctx, "serving cached value after load failure",
				slog.String("key", key.String()), slog.Any("error", err))
			return e.Value, nil
		}
		return nil, err
	case StaleWhileRevalidate:
		return c.fetchStale(ctx, key, tags, load)
	default: // CacheFirst
		e, ok, err := c.lookup(ctx, key)
		if err == nil && ok && !e.Expired(time.Now()) {
			c.metrics.hit()
			return e.Value, nil
		}
		c.metrics.miss()
		return c.loadAndStore(ctx, key, tags, load)
	}
}

func (c *Cache) fetchStale(ctx context.Context, key Key, tags []string, load Loader) ([]byte, error) {
	e, ok, err := c.lookup(ctx, key)
	now := time.Now()
	switch {
	case err == nil && ok && !e.Expired(now):
		c.metrics.hit()
		return e.Value, nil
	case err == nil && ok && e.StaleFor(now) <= c.staleCap:
		c.metrics.staled()
		// Serve stale, refresh out of band. The detached context keeps
		// the refresh alive past this request.
		bg := context.WithoutCancel(ctx)
		go func() {
			if _, err := c.loadAndStore(bg, key, tags, load); err != nil {
				c.log.WarnContext(bg, "background revalidation failed",
					slog.String("key", key.String()), slog.Any("error", err))
			}
		}()
		return e.Value, nil
	default:
		c.metrics.miss()
		return c.loadAndStore(ctx, key, tags, load)
	}
}

// loadAndStore runs the loader under single-flight and stores the
// result. A caller whose context ends while waiting forgets the key
// so the next caller retries instead of inheriting a dead flight.
func (c *Cache) loadAndStore(ctx context.Context, key Key, tags []string, load Loader) ([]byte, error) {
	k := key.String()
	ch := c.group.DoChan(k, func() (any, error) {
		start := time.Now()
		val, err := load(ctx)
		c.metrics.load(time.Since(start))
		if err != nil {
			c.metrics.failed()
			return nil, err
		}
		e := &Entry{Value: val, CreatedAt: time.Now(), TTL: c.ttl, Tags: tags}
		if serr := c.backend.Set(ctx, key, e); serr != nil {
			c.log.WarnContext(ctx, "cache store failed",
				slog.String("key", k), slog.Any("error", serr))
		} else {
			c.metrics.write()
		}
		return val, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		c.group.Forget(k)
		return nil, ctx.Err()
	}
}

func (c *Cache) lookup(ctx context.Context, key Key) (*Entry, bool, error) {
	e, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.metrics.failed()
		c.log.WarnContext(ctx, "cache read failed",
			slog.String("key", key.String()), slog.Any("error", err))
		return nil, false, nil
	}
	return e, ok, err
}

// Invalidate removes entries carrying any of the tags, immediately or
// batched per the write policy.
func (c *Cache) Invalidate(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	if c.write == WriteThrough {
		n, err := c.backend.InvalidateTags(ctx, tags...)
		if err != nil {
			c.metrics.failed()
			return fmt.Errorf("lode/cache: invalidate: %w", err)
		}
		c.metrics.delete(n)
		return nil
	}
	c.mu.Lock()
	for _, t := range tags {
		c.pending[t] = true
	}
	full := len(c.pending) >= c.batchCap
	c.mu.Unlock()
	if full {
		c.flush(context.WithoutCancel(ctx))
	}
	return nil
}

// InvalidatePattern removes entries with matching key strings. Always
// synchronous: pattern invalidation is an operator action.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	n, err := c.backend.InvalidatePattern(ctx, pattern)
	if err != nil {
		c.metrics.failed()
		return 0, fmt.Errorf("lode/cache: invalidate pattern: %w", err)
	}
	c.metrics.delete(n)
	return n, nil
}

// Flush applies pending delayed invalidations now.
func (c *Cache) Flush(ctx context.Context) error {
	c.flush(ctx)
	return nil
}

// Close stops the delayed flusher after a final flush. Safe to call
// on write-through caches and safe to call twice.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()
	if c.write == WriteDelayed {
		close(c.stop)
		c.done.Wait()
	}
	c.flush(context.Background())
	return nil
}

func (c *Cache) flushLoop() {
	defer c.done.Done()
	ticker := time.NewTicker(c.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush(context.Background())
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	tags := make([]string, 0, len(c.pending))
	for t := range c.pending {
		tags = append(tags, t)
	}
	c.pending = map[string]bool{}
	c.mu.Unlock()
	n, err := c.backend.InvalidateTags(ctx, tags...)
	if err != nil {
		c.metrics.failed()
		c.log.WarnContext(ctx, "delayed invalidation failed", slog.Any("error", err))
		return
	}
	c.metrics.delete(n)
}

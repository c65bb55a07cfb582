package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	lsql "github.com/lode-orm/lode/dialect/sql"
)

// Logging logs every operation through slog. Argument values are
// never logged, only their count.
func Logging(log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}
	return Func(func(ctx context.Context, oc *Ctx, next Next) (any, error) {
		start := time.Now()
		out, err := next(ctx, oc)
		attrs := []any{
			slog.String("op", string(oc.Op)),
			slog.String("model", oc.Model),
			slog.Int("args", len(oc.Args)),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			log.ErrorContext(ctx, "operation failed", attrs...)
			return out, err
		}
		log.DebugContext(ctx, "operation", attrs...)
		return out, nil
	})
}

// Timing records the operation duration into Meta.
func Timing() Handler {
	return Func(func(ctx context.Context, oc *Ctx, next Next) (any, error) {
		start := time.Now()
		out, err := next(ctx, oc)
		oc.Meta[metaDuration] = time.Since(start)
		return out, err
	})
}

// OpStats counts operations and failures per kind with atomic
// counters.
type OpStats struct {
	queries   atomic.Int64
	mutations atomic.Int64
	failures  atomic.Int64
	nanos     atomic.Int64
}

// OpSnapshot is a point-in-time copy of OpStats.
type OpSnapshot struct {
	Queries   int64
	Mutations int64
	Failures  int64
	// AvgDuration is the mean operation duration.
	AvgDuration time.Duration
}

// Snapshot copies the counters.
func (s *OpStats) Snapshot() OpSnapshot {
	snap := OpSnapshot{
		Queries:   s.queries.Load(),
		Mutations: s.mutations.Load(),
		Failures:  s.failures.Load(),
	}
	if total := snap.Queries + snap.Mutations; total > 0 {
		snap.AvgDuration = time.Duration(s.nanos.Load() / total)
	}
	return snap
}

// Metrics counts operations into stats.
func Metrics(stats *OpStats) Handler {
	return Func(func(ctx context.Context, oc *Ctx, next Next) (any, error) {
		start := time.Now()
		out, err := next(ctx, oc)
		switch oc.Op {
		case OpInsert, OpUpdate, OpDelete, OpRaw:
			stats.mutations.Add(1)
		default:
			stats.queries.Add(1)
		}
		stats.nanos.Add(int64(time.Since(start)))
		if err != nil {
			stats.failures.Add(1)
		}
		return out, err
	})
}

// RetryConfig bounds the Retry middleware.
type RetryConfig struct {
	// Attempts is the total try count, minimum 1.
	Attempts int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff sleep.
	MaxDelay time.Duration
	// Classify decides retryability. Defaults to the driver error
	// classification: connection, serialization and timeout errors
	// retry; constraint and not-found never do.
	Classify func(error) bool
}

func (c *RetryConfig) defaults() {
	if c.Attempts < 1 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 25 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.Classify == nil {
		c.Classify = func(err error) bool {
			class, _ := lsql.Classify(err)
			return class.Retryable()
		}
	}
}

// Retry re-runs transient failures with exponential backoff and
// jitter. Mutations retry too: the terminal handler is only reached
// again after the database reported a transient failure, not a
// partial apply.
func Retry(cfg RetryConfig) Handler {
	cfg.defaults()
	return Func(func(ctx context.Context, oc *Ctx, next Next) (any, error) {
		var lastErr error
		for attempt := 0; attempt < cfg.Attempts; attempt++ {
			if attempt > 0 {
				if err := sleep(ctx, backoff(cfg, attempt)); err != nil {
					return nil, err
				}
			}
			out, err := next(ctx, oc)
			if err == nil {
				return out, nil
			}
			lastErr = err
			if !cfg.Classify(err) {
				return nil, err
			}
		}
		return nil, fmt.Errorf("middleware: %d attempts exhausted: %w", cfg.Attempts, lastErr)
	})
}

// backoff returns the sleep before the given retry attempt: base*2^(n-1)
// with up to 50% random jitter, capped at MaxDelay.
func backoff(cfg RetryConfig, attempt int) time.Duration {
	d := cfg.BaseDelay << (attempt - 1)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d + jitter
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

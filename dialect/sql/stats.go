package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lode-orm/lode/dialect"
)

// QueryStats holds lock-free execution counters.
type QueryStats struct {
	// TotalQueries is the total number of queries executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of exec statements executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent in the driver, in
	// nanoseconds.
	TotalDuration atomic.Int64
	// SlowQueries is the count of statements exceeding the slow
	// threshold.
	SlowQueries atomic.Int64
	// Errors is the count of failed statements.
	Errors atomic.Int64
}

// Stats returns a point-in-time snapshot.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset zeroes all counters.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a consistent view of QueryStats.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgDuration returns the mean statement duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is called when a statement exceeds the slow threshold.
// Argument values are not passed, only their count; values may carry
// tenant data and must not reach logs.
type SlowQueryHook func(ctx context.Context, query string, argCount int, duration time.Duration)

// StatsDriver wraps a dialect.Driver with statistics collection.
type StatsDriver struct {
	dialect.Driver
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the slow-statement threshold. Default 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.slowThreshold = d }
}

// WithSlowQueryHook sets a callback for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) { s.slowHook = hook }
}

// WithSlowQueryLog logs slow statements through the given logger.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	return WithSlowQueryHook(func(ctx context.Context, query string, argCount int, duration time.Duration) {
		logger.WarnContext(ctx, "slow query",
			slog.Duration("duration", duration),
			slog.String("query", query),
			slog.Int("args", argCount),
		)
	})
}

// NewStatsDriver wraps a driver with statistics collection.
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:        drv,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns a snapshot of the collected counters.
func (s *StatsDriver) Stats() StatsSnapshot { return s.stats.Stats() }

// ResetStats zeroes the collected counters.
func (s *StatsDriver) ResetStats() { s.stats.Reset() }

// Exec executes a statement and records its outcome.
func (s *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := s.Driver.Exec(ctx, query, args, v)
	s.record(ctx, &s.stats.TotalExecs, query, args, time.Since(start), err)
	return err
}

// Query runs a query and records its outcome.
func (s *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := s.Driver.Query(ctx, query, args, v)
	s.record(ctx, &s.stats.TotalQueries, query, args, time.Since(start), err)
	return err
}

// Tx starts a transaction whose statements are also counted.
func (s *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := s.Driver.Tx(ctx)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}
	return &statsTx{Tx: tx, drv: s}, nil
}

func (s *StatsDriver) record(ctx context.Context, counter *atomic.Int64, query string, args any, d time.Duration, err error) {
	counter.Add(1)
	s.stats.TotalDuration.Add(int64(d))
	if err != nil {
		s.stats.Errors.Add(1)
	}
	if d >= s.slowThreshold {
		s.stats.SlowQueries.Add(1)
		if s.slowHook != nil {
			n := 0
			if argv, ok := args.([]any); ok {
				n = len(argv)
			}
			s.slowHook(ctx, query, n, d)
		}
	}
}

type statsTx struct {
	dialect.Tx
	drv *StatsDriver
}

func (t *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := t.Tx.Exec(ctx, query, args, v)
	t.drv.record(ctx, &t.drv.stats.TotalExecs, query, args, time.Since(start), err)
	return err
}

func (t *statsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := t.Tx.Query(ctx, query, args, v)
	t.drv.record(ctx, &t.drv.stats.TotalQueries, query, args, time.Since(start), err)
	return err
}

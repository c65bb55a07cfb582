package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	t.Parallel()
	var order []string
	tag := func(name string) Handler {
		return Func(func(ctx context.Context, oc *Ctx, next Next) (any, error) {
			order = append(order, name+"-in")
			out, err := next(ctx, oc)
			order = append(order, name+"-out")
			return out, err
		})
	}
	c := NewChain(tag("outer"), tag("inner"))

	out, err := c.Run(context.Background(), NewCtx(OpQueryMany, "User"),
		func(context.Context, *Ctx) (any, error) {
			order = append(order, "terminal")
			return "rows", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "rows", out)
	assert.Equal(t, []string{"outer-in", "inner-in", "terminal", "inner-out", "outer-out"}, order)
}

func TestChainShortCircuit(t *testing.T) {
	t.Parallel()
	denied := errors.New("denied")
	c := NewChain(Func(func(context.Context, *Ctx, Next) (any, error) {
		return nil, denied
	}))

	terminalRan := false
	_, err := c.Run(context.Background(), NewCtx(OpDelete, "User"),
		func(context.Context, *Ctx) (any, error) {
			terminalRan = true
			return nil, nil
		})
	assert.ErrorIs(t, err, denied)
	assert.False(t, terminalRan, "short-circuit must not reach the terminal")
}

func TestChainMutatesSQL(t *testing.T) {
	t.Parallel()
	c := NewChain(Func(func(ctx context.Context, oc *Ctx, next Next) (any, error) {
		oc.SQL += ` AND "tenant_id" = $2`
		oc.Args = append(oc.Args, "acme")
		return next(ctx, oc)
	}))

	oc := NewCtx(OpQueryMany, "User")
	oc.SQL = `SELECT * FROM "User" WHERE "id" = $1`
	oc.Args = []any{1}
	_, err := c.Run(context.Background(), oc, func(_ context.Context, oc *Ctx) (any, error) {
		assert.Contains(t, oc.SQL, "tenant_id")
		assert.Len(t, oc.Args, 2)
		return nil, nil
	})
	require.NoError(t, err)
}

func TestEmptyChainRunsTerminal(t *testing.T) {
	t.Parallel()
	out, err := NewChain().Run(context.Background(), NewCtx(OpCount, "User"),
		func(context.Context, *Ctx) (any, error) { return int64(7), nil })
	require.NoError(t, err)
	assert.Equal(t, int64(7), out)
}

func TestLoggingRedactsArgs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := NewChain(Logging(log))

	oc := NewCtx(OpQueryOne, "User")
	oc.Args = []any{"secret-email@example.com"}
	_, err := c.Run(context.Background(), oc,
		func(context.Context, *Ctx) (any, error) { return nil, nil })
	require.NoError(t, err)

	logged := buf.String()
	assert.Contains(t, logged, "args=1")
	assert.NotContains(t, logged, "secret-email", "argument values must never be logged")
}

func TestTiming(t *testing.T) {
	t.Parallel()
	oc := NewCtx(OpQueryMany, "User")
	_, err := NewChain(Timing()).Run(context.Background(), oc,
		func(context.Context, *Ctx) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, oc.Duration(), 5*time.Millisecond)
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	stats := &OpStats{}
	c := NewChain(Metrics(stats))
	run := func(op Op, fail bool) {
		oc := NewCtx(op, "User")
		_, _ = c.Run(context.Background(), oc, func(context.Context, *Ctx) (any, error) {
			if fail {
				return nil, errors.New("boom")
			}
			return nil, nil
		})
	}
	run(OpQueryMany, false)
	run(OpQueryOne, false)
	run(OpInsert, false)
	run(OpUpdate, true)

	snap := stats.Snapshot()
	assert.EqualValues(t, 2, snap.Queries)
	assert.EqualValues(t, 2, snap.Mutations)
	assert.EqualValues(t, 1, snap.Failures)
}

func TestRetryTransientError(t *testing.T) {
	t.Parallel()
	transient := errors.New("deadlock")
	calls := 0
	c := NewChain(Retry(RetryConfig{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		Classify:  func(err error) bool { return errors.Is(err, transient) },
	}))

	out, err := c.Run(context.Background(), NewCtx(OpUpdate, "User"),
		func(context.Context, *Ctx) (any, error) {
			calls++
			if calls < 3 {
				return nil, transient
			}
			return "done", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpOnPermanentError(t *testing.T) {
	t.Parallel()
	permanent := errors.New("unique violation")
	calls := 0
	c := NewChain(Retry(RetryConfig{
		Attempts:  5,
		BaseDelay: time.Millisecond,
		Classify:  func(error) bool { return false },
	}))

	_, err := c.Run(context.Background(), NewCtx(OpInsert, "User"),
		func(context.Context, *Ctx) (any, error) {
			calls++
			return nil, permanent
		})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "permanent errors never retry")
}

func TestRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()
	transient := errors.New("connection reset")
	calls := 0
	c := NewChain(Retry(RetryConfig{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		Classify:  func(error) bool { return true },
	}))

	_, err := c.Run(context.Background(), NewCtx(OpQueryMany, "User"),
		func(context.Context, *Ctx) (any, error) {
			calls++
			return nil, transient
		})
	assert.ErrorIs(t, err, transient)
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	c := NewChain(Retry(RetryConfig{
		Attempts:  10,
		BaseDelay: 50 * time.Millisecond,
		Classify:  func(error) bool { return true },
	}))

	calls := 0
	_, err := c.Run(ctx, NewCtx(OpQueryMany, "User"),
		func(context.Context, *Ctx) (any, error) {
			calls++
			cancel()
			return nil, errors.New("transient")
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancel during backoff stops retrying")
}

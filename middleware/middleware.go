// Package middleware provides the operation interception chain:
// handlers wrap every engine operation FIFO-in/LIFO-out, with
// logging, timing, metrics and retry built in.
package middleware

import (
	"context"
	"time"
)

// Op names the engine operation being intercepted.
type Op string

const (
	OpQueryMany Op = "query_many"
	OpQueryOne  Op = "query_one"
	OpCount     Op = "count"
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpRaw       Op = "raw"
)

// Ctx describes one operation as it flows through the chain. Handlers
// may mutate SQL and Args before the terminal handler runs, and stash
// cross-handler state in Meta.
type Ctx struct {
	Op    Op
	Model string
	SQL   string
	Args  []any
	Meta  map[string]any
}

// NewCtx returns an operation context with an initialized Meta map.
func NewCtx(op Op, model string) *Ctx {
	return &Ctx{Op: op, Model: model, Meta: map[string]any{}}
}

// Next continues the chain. Not calling it short-circuits.
type Next func(ctx context.Context, oc *Ctx) (any, error)

// Handler intercepts one operation.
type Handler interface {
	Handle(ctx context.Context, oc *Ctx, next Next) (any, error)
}

// Func adapts a function to Handler.
type Func func(ctx context.Context, oc *Ctx, next Next) (any, error)

// Handle calls f.
func (f Func) Handle(ctx context.Context, oc *Ctx, next Next) (any, error) {
	return f(ctx, oc, next)
}

// Chain is an ordered handler list. The first handler added is the
// outermost: it runs first on the way in and last on the way out.
type Chain struct {
	handlers []Handler
}

// NewChain returns a chain of the given handlers.
func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: handlers}
}

// Use appends a handler to the chain.
func (c *Chain) Use(h Handler) *Chain {
	c.handlers = append(c.handlers, h)
	return c
}

// Len returns the handler count.
func (c *Chain) Len() int { return len(c.handlers) }

// Run executes the chain around the terminal operation.
func (c *Chain) Run(ctx context.Context, oc *Ctx, terminal Next) (any, error) {
	var invoke func(i int) Next
	invoke = func(i int) Next {
		if i == len(c.handlers) {
			return terminal
		}
		return func(ctx context.Context, oc *Ctx) (any, error) {
			return c.handlers[i].Handle(ctx, oc, invoke(i+1))
		}
	}
	return invoke(0)(ctx, oc)
}

// Duration returns the timing recorded by the Timing middleware,
// zero if absent.
func (oc *Ctx) Duration() time.Duration {
	d, _ := oc.Meta[metaDuration].(time.Duration)
	return d
}

const metaDuration = "duration"

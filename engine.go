// Package lode is the runtime entry point of the toolkit: the Engine
// executes queries and mutations built by generated code against a
// dialect driver, optionally decorated with tenancy scoping, a query
// cache, a middleware chain and per-operation timeouts.
package lode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/lode-orm/lode/cache"
	"github.com/lode-orm/lode/dialect"
	lsql "github.com/lode-orm/lode/dialect/sql"
	"github.com/lode-orm/lode/middleware"
	"github.com/lode-orm/lode/tenant"
)

// Query describes a read against one model's table.
type Query struct {
	Model string
	// Columns limits the selected columns; empty selects all.
	Columns []string
	Filter  *lsql.Filter
	Order   lsql.OrderBy
	Page    lsql.Pagination
}

// Mutation describes a write against one model's table.
type Mutation struct {
	Model string
	// Sets maps column names to values. Columns are emitted in sorted
	// order so the generated SQL is deterministic.
	Sets   map[string]any
	Filter *lsql.Filter
	// Returning lists columns to return from the statement. Ignored on
	// dialects without RETURNING support.
	Returning []string
	// AutoUUID names columns to fill with a fresh UUID when the caller
	// did not set them. Generated code populates this for @auto UUID
	// primary keys.
	AutoUUID []string
	// Touch names timestamp columns to set to now on every write.
	Touch []string
}

// Result reports the outcome of a mutation.
type Result struct {
	RowsAffected int64
	// LastInsertID is set by dialects that report it (MySQL, SQLite).
	LastInsertID int64
	// Columns and Returned carry the RETURNING rows when requested.
	Columns  []string
	Returned [][]any
}

// RowMapper decodes one row into a model value. Generated code
// supplies one per model; scan assigns the row's values to the given
// destinations in column order.
type RowMapper func(columns []string, scan func(dest ...any) error) (any, error)

// Engine executes queries and mutations for generated code.
type Engine interface {
	QueryMany(ctx context.Context, q Query, m RowMapper) ([]any, error)
	QueryOne(ctx context.Context, q Query, m RowMapper) (any, error)
	// QueryOptional is QueryOne returning (nil, nil) instead of a
	// not-found error when nothing matched.
	QueryOptional(ctx context.Context, q Query, m RowMapper) (any, error)
	Count(ctx context.Context, q Query) (int64, error)
	ExecInsert(ctx context.Context, m Mutation) (Result, error)
	ExecUpdate(ctx context.Context, m Mutation) (Result, error)
	ExecDelete(ctx context.Context, m Mutation) (Result, error)
	ExecRaw(ctx context.Context, query string, args []any) (Result, error)
	Close() error
}

// Option configures an Engine.
type Option func(*engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *engine) { e.log = log }
}

// WithMiddleware appends handlers to the operation chain. The first
// handler appended is the outermost.
func WithMiddleware(hs ...middleware.Handler) Option {
	return func(e *engine) {
		for _, h := range hs {
			e.chain.Use(h)
		}
	}
}

// WithCache caches read results keyed by fingerprint and tagged by
// model, so mutations invalidate exactly the models they touched.
func WithCache(c *cache.Cache) Option {
	return func(e *engine) { e.cache = c }
}

// WithTenancy scopes every operation to the tenant carried by the
// context, per the scoper's strategy.
func WithTenancy(s *tenant.Scoper) Option {
	return func(e *engine) { e.scoper = s }
}

// WithTimeout bounds every operation. Exceeding it yields a
// TimeoutError carrying the configured duration.
func WithTimeout(d time.Duration) Option {
	return func(e *engine) { e.timeout = d }
}

// New returns an Engine over the given driver.
func New(drv dialect.Driver, opts ...Option) Engine {
	e := &engine{
		drv:   drv,
		log:   slog.Default(),
		chain: middleware.NewChain(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type engine struct {
	drv     dialect.Driver
	log     *slog.Logger
	chain   *middleware.Chain
	cache   *cache.Cache
	scoper  *tenant.Scoper
	timeout time.Duration
}

// rowset is the raw result of a read: the cache stores it encoded and
// the row mapper replays it, so cached and fresh reads decode the
// same way.
type rowset struct {
	Columns []string
	Rows    [][]any
}

func (e *engine) QueryMany(ctx context.Context, q Query, m RowMapper) ([]any, error) {
	rs, err := e.read(ctx, middleware.OpQueryMany, q)
	if err != nil {
		return nil, err
	}
	return mapRows(rs, m)
}

func (e *engine) QueryOne(ctx context.Context, q Query, m RowMapper) (any, error) {
	out, err := e.queryLimited(ctx, q, m)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &NotFoundError{Model: q.Model}
	}
	return out[0], nil
}

func (e *engine) QueryOptional(ctx context.Context, q Query, m RowMapper) (any, error) {
	out, err := e.queryLimited(ctx, q, m)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// queryLimited fetches up to two rows so a non-unique match is
// detected without draining the result set.
func (e *engine) queryLimited(ctx context.Context, q Query, m RowMapper) ([]any, error) {
	q.Page.Take = 2
	rs, err := e.read(ctx, middleware.OpQueryOne, q)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) > 1 {
		return nil, &NotUniqueError{Model: q.Model, Count: len(rs.Rows)}
	}
	return mapRows(rs, m)
}

func (e *engine) Count(ctx context.Context, q Query) (int64, error) {
	q.Columns = nil
	q.Order = nil
	q.Page = lsql.Pagination{}
	rs, err := e.read(ctx, middleware.OpCount, q)
	if err != nil {
		return 0, err
	}
	if len(rs.Rows) == 0 || len(rs.Rows[0]) == 0 {
		return 0, fmt.Errorf("lode: count %s: empty result", q.Model)
	}
	var n int64
	if err := assign(&n, rs.Rows[0][0]); err != nil {
		return 0, fmt.Errorf("lode: count %s: %w", q.Model, err)
	}
	return n, nil
}

func (e *engine) ExecInsert(ctx context.Context, m Mutation) (Result, error) {
	sets := maps.Clone(m.Sets)
	if sets == nil {
		sets = map[string]any{}
	}
	for _, col := range m.AutoUUID {
		if _, ok := sets[col]; !ok {
			sets[col] = uuid.NewString()
		}
	}
	now := time.Now().UTC()
	for _, col := range m.Touch {
		sets[col] = now
	}
	if len(sets) == 0 {
		return Result{}, &InvalidInputError{Msg: "insert with no columns"}
	}
	m.Sets = sets
	return e.write(ctx, middleware.OpInsert, m, e.buildInsert)
}

func (e *engine) ExecUpdate(ctx context.Context, m Mutation) (Result, error) {
	sets := maps.Clone(m.Sets)
	if sets == nil {
		sets = map[string]any{}
	}
	now := time.Now().UTC()
	for _, col := range m.Touch {
		sets[col] = now
	}
	if len(sets) == 0 {
		return Result{}, &InvalidInputError{Msg: "update with no columns"}
	}
	m.Sets = sets
	return e.write(ctx, middleware.OpUpdate, m, e.buildUpdate)
}

func (e *engine) ExecDelete(ctx context.Context, m Mutation) (Result, error) {
	return e.write(ctx, middleware.OpDelete, m, e.buildDelete)
}

func (e *engine) ExecRaw(ctx context.Context, query string, args []any) (Result, error) {
	ctx, drv, cancel, err := e.begin(ctx, "raw")
	if err != nil {
		return Result{}, err
	}
	defer cancel()
	oc := middleware.NewCtx(middleware.OpRaw, "")
	oc.SQL, oc.Args = query, args
	out, err := e.chain.Run(ctx, oc, func(ctx context.Context, oc *middleware.Ctx) (any, error) {
		var res sql.Result
		if err := drv.Exec(ctx, oc.SQL, oc.Args, &res); err != nil {
			return nil, e.wrap("", err)
		}
		return resultOf(res), nil
	})
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

func (e *engine) Close() error {
	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	errs = append(errs, e.drv.Close())
	return errors.Join(errs...)
}

// begin applies the per-operation timeout and the tenancy strategy:
// schema scoping goes into the context, database routing picks the
// driver.
func (e *engine) begin(ctx context.Context, op string) (context.Context, dialect.Driver, context.CancelFunc, error) {
	cancel := context.CancelFunc(func() {})
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	drv := e.drv
	if e.scoper != nil {
		var err error
		if ctx, err = e.scoper.Scope(ctx); err != nil {
			cancel()
			return nil, nil, nil, e.tenantErr(op, err)
		}
		if drv, err = e.scoper.Driver(ctx, e.drv); err != nil {
			cancel()
			return nil, nil, nil, e.tenantErr(op, err)
		}
	}
	return ctx, drv, cancel, nil
}

// scopeFilter ANDs the tenant predicate into the caller's filter for
// the row-level strategy.
func (e *engine) scopeFilter(ctx context.Context, op string, f *lsql.Filter) (*lsql.Filter, error) {
	if e.scoper == nil {
		return f, nil
	}
	p, err := e.scoper.Predicate(ctx)
	if err != nil {
		return nil, e.tenantErr(op, err)
	}
	if p == nil {
		return f, nil
	}
	if f == nil {
		return p, nil
	}
	return lsql.And(f, p), nil
}

func (e *engine) tenantErr(op string, err error) error {
	var re *tenant.RequiredError
	if errors.As(err, &re) {
		return &TenantRequiredError{Op: op}
	}
	return err
}

// read builds and runs a SELECT through the middleware chain, going
// through the cache when one is configured.
func (e *engine) read(ctx context.Context, op middleware.Op, q Query) (*rowset, error) {
	ctx, drv, cancel, err := e.begin(ctx, string(op))
	if err != nil {
		return nil, err
	}
	defer cancel()
	f, err := e.scopeFilter(ctx, string(op), q.Filter)
	if err != nil {
		return nil, err
	}
	q.Filter = f
	query, args, err := e.buildSelect(capsOf(drv), q, op == middleware.OpCount)
	if err != nil {
		return nil, err
	}
	oc := middleware.NewCtx(op, q.Model)
	oc.SQL, oc.Args = query, args
	out, err := e.chain.Run(ctx, oc, func(ctx context.Context, oc *middleware.Ctx) (any, error) {
		if e.cache == nil {
			return e.fetch(ctx, drv, oc.Model, oc.SQL, oc.Args)
		}
		id, _ := tenant.FromContext(ctx)
		key := cache.Key{
			Namespace:   oc.Model,
			Fingerprint: cache.Fingerprint(oc.SQL, oc.Args, q.Columns, string(id)),
		}
		buf, err := e.cache.Fetch(ctx, key, []string{cache.EntityTag(oc.Model)}, func(ctx context.Context) ([]byte, error) {
			rs, err := e.fetch(ctx, drv, oc.Model, oc.SQL, oc.Args)
			if err != nil {
				return nil, err
			}
			return cache.Encode(rs)
		})
		if err != nil {
			return nil, err
		}
		var rs rowset
		if err := cache.Decode(buf, &rs); err != nil {
			return nil, err
		}
		return &rs, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*rowset), nil
}

// fetch drains a query into a rowset.
func (e *engine) fetch(ctx context.Context, drv dialect.Driver, model, query string, args []any) (*rowset, error) {
	var rows lsql.Rows
	if err := drv.Query(ctx, query, args, &rows); err != nil {
		return nil, e.wrap(model, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, e.wrap(model, err)
	}
	rs := &rowset{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.wrap(model, err)
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, e.wrap(model, err)
	}
	return rs, nil
}

type buildFunc func(caps dialect.Caps, m Mutation) (string, []any, error)

// write builds and runs a mutation through the middleware chain and
// invalidates the model's cache tag on success.
func (e *engine) write(ctx context.Context, op middleware.Op, m Mutation, build buildFunc) (Result, error) {
	ctx, drv, cancel, err := e.begin(ctx, string(op))
	if err != nil {
		return Result{}, err
	}
	defer cancel()
	if op != middleware.OpInsert {
		f, err := e.scopeFilter(ctx, string(op), m.Filter)
		if err != nil {
			return Result{}, err
		}
		m.Filter = f
	}
	caps := capsOf(drv)
	if !caps.SupportsReturning {
		m.Returning = nil
	}
	query, args, err := build(caps, m)
	if err != nil {
		return Result{}, err
	}
	oc := middleware.NewCtx(op, m.Model)
	oc.SQL, oc.Args = query, args
	out, err := e.chain.Run(ctx, oc, func(ctx context.Context, oc *middleware.Ctx) (any, error) {
		if len(m.Returning) > 0 {
			rs, err := e.fetch(ctx, drv, oc.Model, oc.SQL, oc.Args)
			if err != nil {
				return nil, err
			}
			return Result{
				RowsAffected: int64(len(rs.Rows)),
				Columns:      rs.Columns,
				Returned:     rs.Rows,
			}, nil
		}
		var res sql.Result
		if err := drv.Exec(ctx, oc.SQL, oc.Args, &res); err != nil {
			return nil, e.wrap(oc.Model, err)
		}
		return resultOf(res), nil
	})
	if err != nil {
		return Result{}, err
	}
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, cache.EntityTag(m.Model)); err != nil {
			e.log.WarnContext(ctx, "cache invalidation failed", "model", m.Model, "error", err)
		}
	}
	return out.(Result), nil
}

func (e *engine) buildSelect(caps dialect.Caps, q Query, count bool) (string, []any, error) {
	b := lsql.NewBuilder(caps, lsql.ComplexSelect)
	b.WriteString("SELECT ")
	switch {
	case count:
		b.WriteString("COUNT(*)")
	case len(q.Columns) == 0:
		b.WriteByte('*')
	default:
		for i, col := range q.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Ident(col)
		}
	}
	b.WriteString(" FROM ").Ident(q.Model)
	where := q.Filter
	if c := q.Page.Cursor; c != nil {
		if err := c.Validate(q.Order); err != nil {
			return "", nil, err
		}
		pred, err := c.Predicate(q.Order)
		if err != nil {
			return "", nil, err
		}
		if where == nil {
			where = pred
		} else {
			where = lsql.And(where, pred)
		}
	}
	if where != nil {
		b.WriteString(" WHERE ")
		if err := where.Lower(b); err != nil {
			return "", nil, err
		}
	}
	if len(q.Order) > 0 {
		b.WriteByte(' ')
		if err := q.Order.Lower(b); err != nil {
			return "", nil, err
		}
	}
	if q.Page.Take > 0 || q.Page.Skip > 0 {
		b.WriteByte(' ')
		if err := q.Page.Lower(b); err != nil {
			return "", nil, err
		}
	}
	query, args := b.Build()
	return query, args, b.Err()
}

func (e *engine) buildInsert(caps dialect.Caps, m Mutation) (string, []any, error) {
	b := lsql.NewBuilder(caps, lsql.InsertCapacity)
	b.WriteString("INSERT INTO ").Ident(m.Model).WriteString(" (")
	cols := slices.Sorted(maps.Keys(m.Sets))
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(col)
	}
	b.WriteString(") VALUES (")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Arg(m.Sets[col])
	}
	b.WriteByte(')')
	writeReturning(b, m.Returning)
	query, args := b.Build()
	return query, args, b.Err()
}

func (e *engine) buildUpdate(caps dialect.Caps, m Mutation) (string, []any, error) {
	b := lsql.NewBuilder(caps, lsql.UpdateCapacity)
	b.WriteString("UPDATE ").Ident(m.Model).WriteString(" SET ")
	for i, col := range slices.Sorted(maps.Keys(m.Sets)) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(col).WriteString(" = ").Arg(m.Sets[col])
	}
	if m.Filter != nil {
		b.WriteString(" WHERE ")
		if err := m.Filter.Lower(b); err != nil {
			return "", nil, err
		}
	}
	writeReturning(b, m.Returning)
	query, args := b.Build()
	return query, args, b.Err()
}

func (e *engine) buildDelete(caps dialect.Caps, m Mutation) (string, []any, error) {
	b := lsql.NewBuilder(caps, lsql.SimpleSelect)
	b.WriteString("DELETE FROM ").Ident(m.Model)
	if m.Filter != nil {
		b.WriteString(" WHERE ")
		if err := m.Filter.Lower(b); err != nil {
			return "", nil, err
		}
	}
	writeReturning(b, m.Returning)
	query, args := b.Build()
	return query, args, b.Err()
}

func writeReturning(b *lsql.Builder, cols []string) {
	if len(cols) == 0 {
		return
	}
	b.WriteString(" RETURNING ")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(col)
	}
}

// wrap maps a driver failure to its typed engine error.
func (e *engine) wrap(model string, err error) error {
	if err == nil {
		return nil
	}
	class, constraint := lsql.Classify(err)
	switch class {
	case lsql.ClassConstraint:
		return &ConstraintError{Model: model, Constraint: constraint, err: err}
	case lsql.ClassConnection:
		return &ConnectionError{err: err}
	case lsql.ClassSerialization:
		return &SerializationError{err: err}
	case lsql.ClassTimeout:
		return &TimeoutError{Duration: e.timeout, err: err}
	case lsql.ClassNotFound:
		return &NotFoundError{Model: model}
	}
	return err
}

func resultOf(res sql.Result) Result {
	out := Result{}
	if res == nil {
		return out
	}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	// lib/pq does not implement LastInsertId.
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out
}

// mapRows replays a rowset through the caller's mapper.
func mapRows(rs *rowset, m RowMapper) ([]any, error) {
	out := make([]any, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		v, err := m(rs.Columns, func(dest ...any) error {
			return scanRow(rs.Columns, row, dest)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func scanRow(cols []string, row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("lode: scan: %d destinations for %d columns", len(dest), len(cols))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("lode: scan column %q: %w", cols[i], err)
		}
	}
	return nil
}

// assign copies a driver value into a scan destination, honoring
// sql.Scanner and the usual driver conversions.
func assign(dst, src any) error {
	if s, ok := dst.(sql.Scanner); ok {
		return s.Scan(src)
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination %T is not a non-nil pointer", dst)
	}
	dv = dv.Elem()
	if src == nil {
		dv.SetZero()
		return nil
	}
	sv := reflect.ValueOf(src)
	switch {
	case sv.Type().AssignableTo(dv.Type()):
		dv.Set(sv)
	case sv.Type().ConvertibleTo(dv.Type()) && !byteSliceToString(sv.Type(), dv.Type()):
		dv.Set(sv.Convert(dv.Type()))
	case sv.Kind() == reflect.Slice && sv.Type().Elem().Kind() == reflect.Uint8 && dv.Kind() == reflect.String:
		dv.SetString(string(sv.Bytes()))
	default:
		return fmt.Errorf("cannot assign %T to %T", src, dst)
	}
	return nil
}

// byteSliceToString guards the Convert path: []byte converts to
// string already, but it must go through the explicit case so other
// integer-slice conversions do not slip in.
func byteSliceToString(src, dst reflect.Type) bool {
	return src.Kind() == reflect.Slice && dst.Kind() == reflect.String
}

func capsOf(drv dialect.Driver) dialect.Caps {
	if c, ok := drv.(interface{ Caps() dialect.Caps }); ok {
		return c.Caps()
	}
	return dialect.CapsFor(drv.Dialect())
}

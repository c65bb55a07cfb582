// Package sql implements the dialect.Driver interface over database/sql
// and carries the query-building core: the capacity-sized builder, the
// filter algebra, ordering and keyset pagination.
package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lode-orm/lode/dialect"
)

// validIdentRe matches identifiers safe to interpolate into session
// statements (SET search_path and friends).
var validIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// Driver is a dialect.Driver over a database/sql pool.
type Driver struct {
	Conn
	dialect string
	caps    dialect.Caps
}

// Open opens a database/sql pool for the given dialect and wraps it.
func Open(name, source string) (*Driver, error) {
	db, err := sql.Open(name, source)
	if err != nil {
		return nil, err
	}
	return NewDriver(name, Conn{db, name}), nil
}

// OpenDB wraps an existing *sql.DB.
func OpenDB(name string, db *sql.DB) *Driver {
	return NewDriver(name, Conn{db, name})
}

// NewDriver returns a Driver for the given dialect and connection.
func NewDriver(name string, c Conn) *Driver {
	return &Driver{dialect: name, caps: dialect.CapsFor(name), Conn: c}
}

// DB returns the underlying *sql.DB.
func (d *Driver) DB() *sql.DB { return d.ExecQuerier.(*sql.DB) }

// Dialect returns the canonical dialect name, stripping any suffix a
// wrapping driver registered under (e.g. "postgres+telemetry").
func (d *Driver) Dialect() string {
	for _, name := range []string{dialect.Postgres, dialect.MySQL, dialect.SQLite} {
		if strings.HasPrefix(d.dialect, name) {
			return name
		}
	}
	return d.dialect
}

// Caps returns the capability set of the driver's dialect.
func (d *Driver) Caps() dialect.Caps { return d.caps }

// Tx starts and returns a transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with the given options.
func (d *Driver) BeginTx(ctx context.Context, opts *sql.TxOptions) (dialect.Tx, error) {
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Conn: Conn{tx, d.dialect}, Tx: tx}, nil
}

// Close closes the pool.
func (d *Driver) Close() error { return d.DB().Close() }

var _ dialect.Driver = (*Driver)(nil)

// Tx implements dialect.Tx.
type Tx struct {
	Conn
	driver.Tx
}

// sessionKey attaches per-session variables to a context.
type sessionKey struct{}

type sessionVars struct {
	vars []struct{ k, v string }
}

// WithSessionVar returns a context carrying a session variable to set
// before every statement executed with it. The schema-based tenant
// strategy uses this to scope search_path per request.
func WithSessionVar(ctx context.Context, name, value string) context.Context {
	sv, _ := ctx.Value(sessionKey{}).(sessionVars)
	sv.vars = append(sv.vars, struct{ k, v string }{name, value})
	return context.WithValue(ctx, sessionKey{}, sv)
}

// SessionVar returns the value of a session variable from the context.
func SessionVar(ctx context.Context, name string) (string, bool) {
	sv, _ := ctx.Value(sessionKey{}).(sessionVars)
	for _, s := range sv.vars {
		if s.k == name {
			return s.v, true
		}
	}
	return "", false
}

// ExecQuerier wraps the standard database/sql execution methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.ExecQuerier over an ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Exec executes a statement. v may be nil or *sql.Result.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid args type %T, expected []any", args)
	}
	ex, done, err := c.sessionExec(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: session vars: %w", err)
	}
	if done != nil {
		defer func() { _ = done() }()
	}
	switch v := v.(type) {
	case nil:
		if _, err := ex.ExecContext(ctx, query, argv...); err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
		}
	case *sql.Result:
		res, err := ex.ExecContext(ctx, query, argv...)
		if err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
		}
		*v = res
	default:
		return fmt.Errorf("dialect/sql: invalid result type %T, expected *sql.Result", v)
	}
	return nil
}

// Query runs a query. v must be *Rows.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid rows type %T, expected *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid args type %T, expected []any", args)
	}
	ex, done, err := c.sessionExec(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: session vars: %w", err)
	}
	rows, err := ex.QueryContext(ctx, query, argv...)
	if err != nil {
		if done != nil {
			err = errors.Join(err, done())
		}
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*vr = Rows{rows}
	if done != nil {
		vr.ColumnScanner = rowsWithCloser{rows, done}
	}
	return nil
}

// sessionExec applies session variables from the context. When the
// caller holds a pool rather than a transaction, a dedicated
// connection is checked out so the variables do not leak to other
// callers; the returned closer gives it back.
func (c Conn) sessionExec(ctx context.Context) (ExecQuerier, func() error, error) {
	sv, _ := ctx.Value(sessionKey{}).(sessionVars)
	if len(sv.vars) == 0 {
		return c.ExecQuerier, nil, nil
	}
	var (
		ex   ExecQuerier
		done func() error
	)
	switch e := c.ExecQuerier.(type) {
	case *sql.Tx:
		ex = e
	case *sql.DB:
		conn, err := e.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		ex, done = conn, conn.Close
	default:
		// Mock and test backends execute session vars in place.
		ex = c.ExecQuerier
	}
	for _, s := range sv.vars {
		if !validIdentRe.MatchString(s.k) {
			if done != nil {
				_ = done()
			}
			return nil, nil, fmt.Errorf("invalid session variable name %q", s.k)
		}
		stmt := fmt.Sprintf("SET %s = '%s'", s.k, strings.ReplaceAll(s.v, "'", "''"))
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			if done != nil {
				err = errors.Join(err, done())
			}
			return nil, nil, err
		}
	}
	return ex, done, nil
}

type (
	// Rows wraps sql.Rows to avoid copying its internal lock.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// NullBool is an alias to sql.NullBool.
	NullBool = sql.NullBool
	// NullInt64 is an alias to sql.NullInt64.
	NullInt64 = sql.NullInt64
	// NullString is an alias to sql.NullString.
	NullString = sql.NullString
	// NullFloat64 is an alias to sql.NullFloat64.
	NullFloat64 = sql.NullFloat64
	// NullTime is an alias to sql.NullTime.
	NullTime = sql.NullTime
	// TxOptions is an alias to sql.TxOptions.
	TxOptions = sql.TxOptions
)

// ColumnScanner is the subset of sql.Rows used for scanning.
type ColumnScanner interface {
	Close() error
	Columns() ([]string, error)
	Err() error
	Next() bool
	Scan(dest ...any) error
}

type rowsWithCloser struct {
	ColumnScanner
	closer func() error
}

func (r rowsWithCloser) Close() error {
	return errors.Join(r.ColumnScanner.Close(), r.closer())
}

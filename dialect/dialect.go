// Package dialect provides the database abstraction the rest of the
// module builds on: dialect names, the Driver/Tx execution interfaces,
// and the capability set describing each dialect's quirks.
package dialect

import (
	"context"
	"log/slog"
	"time"
)

// Supported dialect names. The name doubles as the database/sql driver
// name used by sql.Open.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// ExecQuerier wraps the Exec and Query execution methods. The args
// argument is always a []any; v receives the result (*sql.Rows for
// Query, *sql.Result or nil for Exec).
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the minimal interface a database backend implements.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(ctx context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx is a transactional scope over a Driver.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// Placeholder is the parameter placeholder style of a dialect.
type Placeholder int

const (
	// PlaceholderDollar emits $1, $2, ... (Postgres).
	PlaceholderDollar Placeholder = iota
	// PlaceholderQuestion emits ? for every parameter (MySQL, SQLite).
	PlaceholderQuestion
	// PlaceholderNamed emits @p1, @p2, ... (SQL Server style backends).
	PlaceholderNamed
)

// Caps describes the dialect quirks the query builder, the DDL
// generator and the migration engine need to know about. A Caps value
// travels with the builder instead of the code switching on dialect
// names everywhere.
type Caps struct {
	// Dialect is the name the capability set was derived from.
	Dialect string
	// Placeholder is the parameter placeholder style.
	Placeholder Placeholder
	// Quote is the identifier quote character.
	Quote rune
	// SupportsReturning reports whether INSERT/UPDATE ... RETURNING
	// is available.
	SupportsReturning bool
	// TransactionalDDL reports whether DDL statements participate in
	// transactions and roll back with them.
	TransactionalDDL bool
	// CreateTypeEnum reports whether enums are first-class types
	// (CREATE TYPE ... AS ENUM).
	CreateTypeEnum bool
	// NullsOrdering reports whether ORDER BY accepts NULLS FIRST/LAST.
	NullsOrdering bool
	// LikeEscape reports whether LIKE needs an explicit ESCAPE clause
	// for escaped wildcards.
	LikeEscape bool
	// AdvisoryLock reports whether the dialect offers session-scoped
	// advisory locks.
	AdvisoryLock bool
	// AlterColumnType reports whether a column type can be changed in
	// place with ALTER TABLE.
	AlterColumnType bool
}

// CapsFor returns the capability set of a known dialect. Unknown
// dialects get conservative question-mark placeholders and double
// quotes.
func CapsFor(dialect string) Caps {
	switch dialect {
	case Postgres:
		return Caps{
			Dialect:           Postgres,
			Placeholder:       PlaceholderDollar,
			Quote:             '"',
			SupportsReturning: true,
			TransactionalDDL:  true,
			CreateTypeEnum:    true,
			NullsOrdering:     true,
			LikeEscape:        false,
			AdvisoryLock:      true,
			AlterColumnType:   true,
		}
	case MySQL:
		return Caps{
			Dialect:           MySQL,
			Placeholder:       PlaceholderQuestion,
			Quote:             '`',
			SupportsReturning: false,
			TransactionalDDL:  false,
			CreateTypeEnum:    false,
			NullsOrdering:     false,
			LikeEscape:        false,
			AdvisoryLock:      true,
			AlterColumnType:   true,
		}
	case SQLite:
		return Caps{
			Dialect:           SQLite,
			Placeholder:       PlaceholderQuestion,
			Quote:             '"',
			SupportsReturning: true,
			TransactionalDDL:  true,
			CreateTypeEnum:    false,
			NullsOrdering:     true,
			LikeEscape:        true,
			AdvisoryLock:      false,
			AlterColumnType:   false,
		}
	default:
		return Caps{
			Dialect:     dialect,
			Placeholder: PlaceholderQuestion,
			Quote:       '"',
		}
	}
}

// DebugDriver wraps a Driver and logs every statement through slog.
// Parameter values are never logged, only their count.
type DebugDriver struct {
	Driver
	log *slog.Logger
}

// Debug returns a driver that logs statements at debug level.
func Debug(d Driver, logger *slog.Logger) Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugDriver{Driver: d, log: logger}
}

// Exec logs and delegates the statement.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.logStmt(ctx, "exec", query, args, start, err)
	return err
}

// Query logs and delegates the query.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.logStmt(ctx, "query", query, args, start, err)
	return err
}

// Tx starts a transaction whose statements log through the same logger.
func (d *DebugDriver) Tx(ctx context.Context) (Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &debugTx{Tx: tx, log: d.log}, nil
}

func (d *DebugDriver) logStmt(ctx context.Context, op, query string, args any, start time.Time, err error) {
	attrs := []any{
		"op", op,
		"query", query,
		"args", argCount(args),
		"duration", time.Since(start),
	}
	if err != nil {
		attrs = append(attrs, "err", err)
		d.log.ErrorContext(ctx, "statement failed", attrs...)
		return
	}
	d.log.DebugContext(ctx, "statement", attrs...)
}

type debugTx struct {
	Tx
	log *slog.Logger
}

func (tx *debugTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.log.DebugContext(ctx, "tx exec", "query", query, "args", argCount(args), "duration", time.Since(start))
	return err
}

func (tx *debugTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.log.DebugContext(ctx, "tx query", "query", query, "args", argCount(args), "duration", time.Since(start))
	return err
}

func argCount(args any) int {
	if v, ok := args.([]any); ok {
		return len(v)
	}
	return 0
}

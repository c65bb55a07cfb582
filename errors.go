package lode

import (
	"errors"
	"fmt"
	"time"

	lsql "github.com/lode-orm/lode/dialect/sql"
)

// Sentinel errors for errors.Is checks. The typed errors below match
// these through their Is methods, so callers can branch on the kind
// without losing the attached context.
var (
	// ErrNotFound is returned when a single-row query matches nothing.
	ErrNotFound = errors.New("lode: not found")
	// ErrNotUnique is returned when a single-row query matches more
	// than one row.
	ErrNotUnique = errors.New("lode: not unique")
	// ErrTenantRequired is returned when the tenancy scoper requires a
	// tenant and the context carries none.
	ErrTenantRequired = errors.New("lode: tenant required")
	// ErrNoChanges reports that a migration plan found nothing to do.
	ErrNoChanges = errors.New("lode: no changes")
	// ErrLockFailed reports that the migration lock could not be taken.
	ErrLockFailed = errors.New("lode: lock failed")
)

// NotFoundError reports a single-row query that matched no rows.
type NotFoundError struct {
	Model string
	ID    any
}

func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("lode: %s %v not found", e.Model, e.ID)
	}
	return fmt.Sprintf("lode: %s not found", e.Model)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotUniqueError reports a single-row query that matched more than
// one row.
type NotUniqueError struct {
	Model string
	Count int
}

func (e *NotUniqueError) Error() string {
	return fmt.Sprintf("lode: %s query matched %d rows, expected one", e.Model, e.Count)
}

func (e *NotUniqueError) Is(target error) bool { return target == ErrNotUnique }

// ConstraintError wraps a unique, foreign-key, not-null or check
// violation reported by the driver. Never retryable.
type ConstraintError struct {
	Model      string
	Constraint string
	err        error
}

func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("lode: %s: constraint %q violated: %v", e.Model, e.Constraint, e.err)
	}
	return fmt.Sprintf("lode: %s: constraint violated: %v", e.Model, e.err)
}

func (e *ConstraintError) Unwrap() error { return e.err }

// InvalidInputError reports a value rejected before it reached the
// database.
type InvalidInputError struct {
	Field string
	Msg   string
}

func (e *InvalidInputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("lode: invalid input for %s: %s", e.Field, e.Msg)
	}
	return "lode: invalid input: " + e.Msg
}

// ConnectionError wraps a connection establishment or loss failure.
// Retryable.
type ConnectionError struct {
	err error
}

func (e *ConnectionError) Error() string { return "lode: connection: " + e.err.Error() }

func (e *ConnectionError) Unwrap() error { return e.err }

// TimeoutError reports an operation that exceeded its deadline.
// Duration is the configured per-operation timeout when one was set.
type TimeoutError struct {
	Duration time.Duration
	err      error
}

func (e *TimeoutError) Error() string {
	if e.Duration > 0 {
		return fmt.Sprintf("lode: timeout after %s: %v", e.Duration, e.err)
	}
	return fmt.Sprintf("lode: timeout: %v", e.err)
}

func (e *TimeoutError) Unwrap() error { return e.err }

// SerializationError wraps a serialization failure or deadlock under
// concurrent transactions. Retryable.
type SerializationError struct {
	err error
}

func (e *SerializationError) Error() string { return "lode: serialization: " + e.err.Error() }

func (e *SerializationError) Unwrap() error { return e.err }

// TenantRequiredError reports an operation executed without a tenant
// in context while the scoper requires one.
type TenantRequiredError struct {
	Op string
}

func (e *TenantRequiredError) Error() string {
	return fmt.Sprintf("lode: %s: tenant required", e.Op)
}

func (e *TenantRequiredError) Is(target error) bool { return target == ErrTenantRequired }

// Retryable reports whether an operation that failed with err is safe
// to run again: connection, serialization and timeout failures are,
// constraint violations and missing rows are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.As(err, new(*ConnectionError)),
		errors.As(err, new(*SerializationError)),
		errors.As(err, new(*TimeoutError)):
		return true
	case errors.As(err, new(*ConstraintError)),
		errors.As(err, new(*NotFoundError)),
		errors.As(err, new(*NotUniqueError)),
		errors.As(err, new(*InvalidInputError)),
		errors.As(err, new(*TenantRequiredError)):
		return false
	}
	class, _ := lsql.Classify(err)
	return class.Retryable()
}

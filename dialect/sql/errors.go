package sql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// ErrorClass is a coarse classification of driver errors, used by the
// engine to map raw failures to typed errors and by the retry
// middleware to decide retryability.
type ErrorClass int

const (
	// ClassUnknown covers errors no classifier matched.
	ClassUnknown ErrorClass = iota
	// ClassNotFound is sql.ErrNoRows.
	ClassNotFound
	// ClassConstraint covers unique, foreign-key, not-null and check
	// violations. Never retryable.
	ClassConstraint
	// ClassConnection covers connection establishment and loss.
	// Retryable.
	ClassConnection
	// ClassSerialization covers serialization failures and deadlocks
	// under concurrent transactions. Retryable.
	ClassSerialization
	// ClassTimeout covers context deadline and driver-level timeouts.
	ClassTimeout
)

// Classify inspects a driver error and returns its class. The second
// return value carries the driver's constraint name when available.
func Classify(err error) (ErrorClass, string) {
	switch {
	case err == nil:
		return ClassUnknown, ""
	case errors.Is(err, sql.ErrNoRows):
		return ClassNotFound, ""
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout, ""
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone):
		return ClassConnection, ""
	}
	var pqerr *pq.Error
	if errors.As(err, &pqerr) {
		switch {
		case strings.HasPrefix(string(pqerr.Code), "23"):
			return ClassConstraint, pqerr.Constraint
		case strings.HasPrefix(string(pqerr.Code), "08"):
			return ClassConnection, ""
		case pqerr.Code == "40001", pqerr.Code == "40P01":
			return ClassSerialization, ""
		case pqerr.Code == "57014":
			return ClassTimeout, ""
		}
		return ClassUnknown, ""
	}
	var myerr *mysql.MySQLError
	if errors.As(err, &myerr) {
		switch myerr.Number {
		case 1062, 1452, 1048, 3819:
			return ClassConstraint, ""
		case 1040, 1042, 1043, 1053, 2002, 2003, 2006, 2013:
			return ClassConnection, ""
		case 1213, 1205:
			return ClassSerialization, ""
		}
		return ClassUnknown, ""
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return ClassConnection, ""
	}
	// modernc.org/sqlite reports constraint failures by message.
	if msg := err.Error(); strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "FOREIGN KEY constraint") {
		return ClassConstraint, ""
	}
	return ClassUnknown, ""
}

// Retryable reports whether an error class is safe to retry.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassConnection, ClassSerialization, ClassTimeout:
		return true
	}
	return false
}

// String returns the class name.
func (c ErrorClass) String() string {
	switch c {
	case ClassNotFound:
		return "not_found"
	case ClassConstraint:
		return "constraint"
	case ClassConnection:
		return "connection"
	case ClassSerialization:
		return "serialization"
	case ClassTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

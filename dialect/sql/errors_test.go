package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		class      ErrorClass
		constraint string
	}{
		{name: "nil", err: nil, class: ClassUnknown},
		{name: "no rows", err: sql.ErrNoRows, class: ClassNotFound},
		{name: "wrapped no rows", err: fmt.Errorf("scan: %w", sql.ErrNoRows), class: ClassNotFound},
		{name: "deadline", err: context.DeadlineExceeded, class: ClassTimeout},
		{name: "conn done", err: sql.ErrConnDone, class: ClassConnection},
		{
			name:       "pq unique",
			err:        &pq.Error{Code: "23505", Constraint: "users_email_key"},
			class:      ClassConstraint,
			constraint: "users_email_key",
		},
		{name: "pq fk", err: &pq.Error{Code: "23503"}, class: ClassConstraint},
		{name: "pq conn", err: &pq.Error{Code: "08006"}, class: ClassConnection},
		{name: "pq serialization", err: &pq.Error{Code: "40001"}, class: ClassSerialization},
		{name: "pq deadlock", err: &pq.Error{Code: "40P01"}, class: ClassSerialization},
		{name: "pq cancel", err: &pq.Error{Code: "57014"}, class: ClassTimeout},
		{name: "pq other", err: &pq.Error{Code: "42P01"}, class: ClassUnknown},
		{name: "mysql dup", err: &mysql.MySQLError{Number: 1062}, class: ClassConstraint},
		{name: "mysql fk", err: &mysql.MySQLError{Number: 1452}, class: ClassConstraint},
		{name: "mysql gone", err: &mysql.MySQLError{Number: 2006}, class: ClassConnection},
		{name: "mysql deadlock", err: &mysql.MySQLError{Number: 1213}, class: ClassSerialization},
		{name: "mysql invalid conn", err: mysql.ErrInvalidConn, class: ClassConnection},
		{name: "sqlite unique", err: errors.New("constraint failed: UNIQUE constraint failed: users.email"), class: ClassConstraint},
		{name: "opaque", err: errors.New("boom"), class: ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			class, constraint := Classify(tt.err)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.constraint, constraint)
		})
	}
}

func TestErrorClassRetryable(t *testing.T) {
	t.Parallel()
	assert.True(t, ClassConnection.Retryable())
	assert.True(t, ClassSerialization.Retryable())
	assert.True(t, ClassTimeout.Retryable())
	assert.False(t, ClassConstraint.Retryable())
	assert.False(t, ClassNotFound.Retryable())
	assert.False(t, ClassUnknown.Retryable())
}

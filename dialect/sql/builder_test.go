package sql

import (
	"testing"

	"github.com/lode-orm/lode/dialect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderPlaceholders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dialect string
		want    string
	}{
		{dialect.Postgres, `SELECT * FROM "users" WHERE "id" = $1 AND "age" > $2`},
		{dialect.MySQL, "SELECT * FROM `users` WHERE `id` = ? AND `age` > ?"},
		{dialect.SQLite, `SELECT * FROM "users" WHERE "id" = ? AND "age" > ?`},
	}
	for _, tt := range tests {
		b := NewBuilder(dialect.CapsFor(tt.dialect), SimpleSelect)
		b.WriteString("SELECT * FROM ").Ident("users").
			WriteString(" WHERE ").Ident("id").WriteString(" = ").Arg(1).
			WriteString(" AND ").Ident("age").WriteString(" > ").Arg(21)
		require.NoError(t, b.Err())
		query, args := b.Build()
		assert.Equal(t, tt.want, query, tt.dialect)
		assert.Equal(t, []any{1, 21}, args)
	}
}

func TestBuilderNamedPlaceholders(t *testing.T) {
	t.Parallel()
	caps := dialect.Caps{Dialect: "sqlserver", Placeholder: dialect.PlaceholderNamed, Quote: '"'}
	b := NewBuilder(caps, SimpleSelect)
	b.Ident("id").WriteString(" IN (").Args(1, 2, 3).WriteByte(')')
	query, args := b.Build()
	assert.Equal(t, `"id" IN (@p1, @p2, @p3)`, query)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestBuilderIdentRejectsQuote(t *testing.T) {
	t.Parallel()
	b := NewBuilder(dialect.CapsFor(dialect.Postgres), SimpleSelect)
	b.Ident(`users"; --`)
	require.Error(t, b.Err())
	assert.Contains(t, b.Err().Error(), "invalid identifier")
}

func TestBuilderSep(t *testing.T) {
	t.Parallel()
	b := NewBuilder(dialect.CapsFor(dialect.Postgres), SimpleSelect)
	for _, col := range []string{"id", "email", "name"} {
		b.Sep(", ").Ident(col)
	}
	query, _ := b.Build()
	assert.Equal(t, `"id", "email", "name"`, query)

	// Sep with nothing written since the last marker stays silent.
	b.Reset()
	b.Sep(", ").Sep(", ").Ident("id")
	query, _ = b.Build()
	assert.Equal(t, `"id"`, query)
}

func TestBuilderReset(t *testing.T) {
	t.Parallel()
	b := NewBuilder(dialect.CapsFor(dialect.Postgres), UpdateCapacity)
	b.Ident("a").WriteString(" = ").Arg(1)
	query, args := b.Build()
	assert.Equal(t, `"a" = $1`, query)
	assert.Len(t, args, 1)

	b.Reset()
	assert.Zero(t, b.Len())
	assert.Zero(t, b.ArgCount())
	b.Ident("b").WriteString(" = ").Arg(2)
	query, args = b.Build()
	assert.Equal(t, `"b" = $1`, query, "placeholder numbering restarts after reset")
	assert.Equal(t, []any{2}, args)
}

func TestBuilderCapacityPresets(t *testing.T) {
	t.Parallel()
	for _, c := range []QueryCapacity{SimpleSelect, ComplexSelect, InsertCapacity, UpdateCapacity, BulkInsert} {
		buf, args := c.sizes()
		assert.Positive(t, buf)
		assert.Positive(t, args)
	}
	buf, _ := BulkInsert.sizes()
	small, _ := SimpleSelect.sizes()
	assert.Greater(t, buf, small)
}

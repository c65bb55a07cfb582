package sql

import (
	"testing"
	"time"

	"github.com/lode-orm/lode/dialect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderByLowering(t *testing.T) {
	t.Parallel()
	order := OrderBy{
		{Column: "created_at", Dir: Desc, Nulls: NullsLast},
		{Column: "id"},
	}
	b := NewBuilder(dialect.CapsFor(dialect.Postgres), SimpleSelect)
	require.NoError(t, order.Lower(b))
	query, _ := b.Build()
	assert.Equal(t, `ORDER BY "created_at" DESC NULLS LAST, "id" ASC`, query)

	// MySQL has no NULLS LAST; the CASE rewrite stands in.
	b = NewBuilder(dialect.CapsFor(dialect.MySQL), SimpleSelect)
	require.NoError(t, order.Lower(b))
	query, _ = b.Build()
	assert.Equal(t, "ORDER BY CASE WHEN `created_at` IS NULL THEN 1 ELSE 0 END, `created_at` DESC, `id` ASC", query)
}

func TestEnsureTieBreak(t *testing.T) {
	t.Parallel()
	order := OrderBy{{Column: "created_at", Dir: Desc}}
	total := order.EnsureTieBreak("id")
	require.Len(t, total, 2)
	assert.Equal(t, OrderTerm{Column: "id", Dir: Asc}, total[1])

	// Already-present PK columns are not duplicated.
	same := total.EnsureTieBreak("id")
	assert.Len(t, same, 2)
}

func TestEnsureTieBreakDoesNotAliasReceiver(t *testing.T) {
	t.Parallel()
	order := make(OrderBy, 1, 4)
	order[0] = OrderTerm{Column: "created_at", Dir: Desc}

	a := order.EnsureTieBreak("id")
	b := order.EnsureTieBreak("uuid")
	require.Len(t, order, 1)
	assert.Equal(t, OrderTerm{Column: "id", Dir: Asc}, a[1])
	assert.Equal(t, OrderTerm{Column: "uuid", Dir: Asc}, b[1])

	// The receiver's spare capacity must stay untouched.
	grown := append(order, OrderTerm{Column: "extra", Dir: Asc})
	assert.Equal(t, "extra", grown[1].Column)
	assert.Equal(t, "id", a[1].Column)
}

func TestPaginationLowering(t *testing.T) {
	t.Parallel()
	b := NewBuilder(dialect.CapsFor(dialect.Postgres), SimpleSelect)
	require.NoError(t, Pagination{Skip: 20, Take: 10}.Lower(b))
	query, args := b.Build()
	assert.Equal(t, "LIMIT $1 OFFSET $2", query)
	assert.Equal(t, []any{10, 20}, args)

	// With a cursor, OFFSET is dropped: the cursor predicate already
	// positions the scan.
	b.Reset()
	cur := &Cursor{Entries: []CursorEntry{{Column: "id", Value: 5}}}
	require.NoError(t, Pagination{Skip: 20, Take: 10, Cursor: cur}.Lower(b))
	query, args = b.Build()
	assert.Equal(t, "LIMIT $1", query)
	assert.Equal(t, []any{10}, args)
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &Cursor{
		Entries: []CursorEntry{
			{Column: "created_at", Value: ts},
			{Column: "id", Value: int64(42)},
		},
		Direction: Forward,
	}
	token, err := c.Encode()
	require.NoError(t, err)
	assert.NotContains(t, token, "=", "token must be URL-safe without padding")

	got, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "created_at", got.Entries[0].Column)
	assert.Equal(t, "id", got.Entries[1].Column)
	assert.Equal(t, Forward, got.Direction)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "!!!", "aGVsbG8"} {
		_, err := DecodeCursor(s)
		var cerr *CursorError
		require.ErrorAs(t, err, &cerr, "input %q", s)
	}
}

func TestCursorPredicate(t *testing.T) {
	t.Parallel()
	order := OrderBy{
		{Column: "created_at", Dir: Desc},
		{Column: "id", Dir: Asc},
	}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &Cursor{
		Entries: []CursorEntry{
			{Column: "created_at", Value: ts},
			{Column: "id", Value: 42},
		},
		Direction: Forward,
	}
	f, err := c.Predicate(order)
	require.NoError(t, err)
	query, args := lower(t, dialect.Postgres, f)
	assert.Equal(t, `("created_at" < $1 OR ("created_at" = $2 AND "id" > $3))`, query)
	assert.Equal(t, []any{ts, ts, 42}, args)
}

func TestCursorPredicateBackward(t *testing.T) {
	t.Parallel()
	order := OrderBy{{Column: "id", Dir: Asc}}
	c := &Cursor{
		Entries:   []CursorEntry{{Column: "id", Value: 10}},
		Direction: Backward,
	}
	f, err := c.Predicate(order)
	require.NoError(t, err)
	query, args := lower(t, dialect.Postgres, f)
	assert.Equal(t, `"id" < $1`, query)
	assert.Equal(t, []any{10}, args)
}

func TestCursorOrderMismatch(t *testing.T) {
	t.Parallel()
	c := &Cursor{Entries: []CursorEntry{{Column: "name", Value: "x"}}}
	_, err := c.Predicate(OrderBy{{Column: "id", Dir: Asc}})
	var cerr *CursorError
	require.ErrorAs(t, err, &cerr)

	c2 := &Cursor{Entries: []CursorEntry{{Column: "id", Value: 1}}}
	_, err = c2.Predicate(OrderBy{{Column: "id", Dir: Asc}, {Column: "name", Dir: Asc}})
	require.ErrorAs(t, err, &cerr)
}

func TestCursorFor(t *testing.T) {
	t.Parallel()
	order := OrderBy{{Column: "created_at", Dir: Desc}, {Column: "id", Dir: Asc}}
	c, err := CursorFor(order, Forward, "T", 7)
	require.NoError(t, err)
	assert.Equal(t, "created_at", c.Entries[0].Column)
	assert.Equal(t, 7, c.Entries[1].Value)

	_, err = CursorFor(order, Forward, "T")
	var cerr *CursorError
	require.ErrorAs(t, err, &cerr)
}

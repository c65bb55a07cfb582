package sql

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// CursorDirection is the traversal direction of a keyset cursor.
type CursorDirection uint8

const (
	// Forward continues in the query's sort order.
	Forward CursorDirection = iota
	// Backward walks against the sort order.
	Backward
)

// CursorEntry is one (column, last-seen value) pair of a keyset
// cursor.
type CursorEntry struct {
	Column string `msgpack:"c"`
	Value  any    `msgpack:"v"`
}

// Cursor is a keyset pagination token: the last-seen values of the
// OrderBy columns plus a direction. Callers treat its encoded form as
// opaque.
type Cursor struct {
	Entries   []CursorEntry   `msgpack:"e"`
	Direction CursorDirection `msgpack:"d"`
}

// CursorError reports a cursor that does not match the query it was
// presented to.
type CursorError struct {
	Reason string
}

func (e *CursorError) Error() string {
	return "lode: invalid cursor: " + e.Reason
}

// Encode serializes the cursor to a URL-safe opaque string.
func (c *Cursor) Encode() (string, error) {
	raw, err := msgpack.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("dialect/sql: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses an encoded cursor. Any malformed input yields a
// *CursorError rather than a codec error.
func DecodeCursor(s string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, &CursorError{Reason: "not base64url"}
	}
	var c Cursor
	if err := msgpack.Unmarshal(raw, &c); err != nil {
		return nil, &CursorError{Reason: "malformed payload"}
	}
	if len(c.Entries) == 0 {
		return nil, &CursorError{Reason: "empty column list"}
	}
	return &c, nil
}

// Validate checks that the cursor's column list matches the OrderBy it
// will paginate, position by position.
func (c *Cursor) Validate(order OrderBy) error {
	if len(c.Entries) != len(order) {
		return &CursorError{Reason: fmt.Sprintf("cursor has %d columns, order by has %d", len(c.Entries), len(order))}
	}
	for i, e := range c.Entries {
		if e.Column != order[i].Column {
			return &CursorError{Reason: fmt.Sprintf("cursor column %q does not match order by column %q", e.Column, order[i].Column)}
		}
	}
	return nil
}

// Predicate builds the keyset predicate for resuming after the
// cursor's position: a lexicographic disjunction where row i requires
// equality on the first i columns and a strict comparison on column
// i+1. The result is ANDed into the query's WHERE clause.
func (c *Cursor) Predicate(order OrderBy) (*Filter, error) {
	if err := c.Validate(order); err != nil {
		return nil, err
	}
	terms := make([]*Filter, 0, len(c.Entries))
	for i, e := range c.Entries {
		conj := make([]*Filter, 0, i+1)
		for j := 0; j < i; j++ {
			conj = append(conj, EQ(c.Entries[j].Column, c.Entries[j].Value))
		}
		dir := order[i].Dir
		if dir == "" {
			dir = Asc
		}
		if c.Direction == Backward {
			dir = dir.Reverse()
		}
		if dir == Asc {
			conj = append(conj, GT(e.Column, e.Value))
		} else {
			conj = append(conj, LT(e.Column, e.Value))
		}
		terms = append(terms, And(conj...))
	}
	return Or(terms...), nil
}

// CursorFor builds a cursor pointing past the given row values, one
// per OrderBy column in order.
func CursorFor(order OrderBy, dir CursorDirection, values ...any) (*Cursor, error) {
	if len(values) != len(order) {
		return nil, &CursorError{Reason: fmt.Sprintf("%d values for %d order by columns", len(values), len(order))}
	}
	entries := make([]CursorEntry, len(order))
	for i, t := range order {
		entries[i] = CursorEntry{Column: t.Column, Value: values[i]}
	}
	return &Cursor{Entries: entries, Direction: dir}, nil
}

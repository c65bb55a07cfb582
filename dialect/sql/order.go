package sql

// Direction is a sort direction.
type Direction string

const (
	// Asc sorts ascending.
	Asc Direction = "ASC"
	// Desc sorts descending.
	Desc Direction = "DESC"
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// NullsOrder places NULL values relative to non-NULL ones.
type NullsOrder int

const (
	// NullsDefault leaves NULL placement to the dialect.
	NullsDefault NullsOrder = iota
	// NullsFirst sorts NULL values first.
	NullsFirst
	// NullsLast sorts NULL values last.
	NullsLast
)

// OrderTerm is a single ORDER BY column.
type OrderTerm struct {
	Column string
	Dir    Direction
	Nulls  NullsOrder
}

// OrderBy is an ordered list of sort terms.
type OrderBy []OrderTerm

// Lower writes an ORDER BY clause to the builder. Dialects without
// NULLS FIRST/LAST support get the portable CASE rewrite.
func (o OrderBy) Lower(b *Builder) error {
	if len(o) == 0 {
		return nil
	}
	b.WriteString("ORDER BY ")
	for i, t := range o {
		if i > 0 {
			b.WriteString(", ")
		}
		dir := t.Dir
		if dir == "" {
			dir = Asc
		}
		if t.Nulls != NullsDefault && !b.caps.NullsOrdering {
			// MySQL: NULLs sort first by default. CASE forces the
			// requested placement before the real sort key.
			b.WriteString("CASE WHEN ")
			b.Ident(t.Column)
			if t.Nulls == NullsFirst {
				b.WriteString(" IS NULL THEN 0 ELSE 1 END, ")
			} else {
				b.WriteString(" IS NULL THEN 1 ELSE 0 END, ")
			}
		}
		b.Ident(t.Column).WriteString(" " + string(dir))
		if t.Nulls != NullsDefault && b.caps.NullsOrdering {
			if t.Nulls == NullsFirst {
				b.WriteString(" NULLS FIRST")
			} else {
				b.WriteString(" NULLS LAST")
			}
		}
	}
	return b.Err()
}

// EnsureTieBreak appends the primary-key columns ascending unless they
// already appear, so the resulting order is total. Keyset pagination
// is only correct over a total order.
func (o OrderBy) EnsureTieBreak(pk ...string) OrderBy {
	out := make(OrderBy, len(o), len(o)+len(pk))
	copy(out, o)
	for _, col := range pk {
		found := false
		for _, t := range o {
			if t.Column == col {
				found = true
				break
			}
		}
		if !found {
			out = append(out, OrderTerm{Column: col, Dir: Asc})
		}
	}
	return out
}

// Pagination bounds a result set. Take <= 0 means no limit, Skip <= 0
// no offset. Cursor, when set, takes precedence over Skip.
type Pagination struct {
	Skip   int
	Take   int
	Cursor *Cursor
}

// Lower writes LIMIT/OFFSET clauses to the builder. Cursor predicates
// are lowered separately into the WHERE clause.
func (p Pagination) Lower(b *Builder) error {
	if p.Take > 0 {
		b.WriteString("LIMIT ").Arg(p.Take)
	}
	if p.Skip > 0 && p.Cursor == nil {
		if p.Take > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("OFFSET ").Arg(p.Skip)
	}
	return b.Err()
}

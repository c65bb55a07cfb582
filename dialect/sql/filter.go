package sql

import (
	"strings"

	"github.com/lode-orm/lode/dialect"
)

// Op is a comparison operator.
type Op int

const (
	// OpEQ is the equality operator.
	OpEQ Op = iota
	// OpNEQ is the inequality operator.
	OpNEQ
	// OpLT is the less-than operator.
	OpLT
	// OpLTE is the less-than-or-equal operator.
	OpLTE
	// OpGT is the greater-than operator.
	OpGT
	// OpGTE is the greater-than-or-equal operator.
	OpGTE
)

var opSQL = [...]string{
	OpEQ:  "=",
	OpNEQ: "<>",
	OpLT:  "<",
	OpLTE: "<=",
	OpGT:  ">",
	OpGTE: ">=",
}

type filterKind uint8

const (
	kindCmp filterKind = iota
	kindIn
	kindLike
	kindNull
	kindAnd
	kindOr
	kindNot
)

type likeMode uint8

const (
	likeContains likeMode = iota
	likePrefix
	likeSuffix
)

// Filter is a node in the predicate tree. A nil *Filter is the empty
// predicate and lowers to nothing; constructors collapse trivial
// compositions so callers can pass results around without checking.
type Filter struct {
	kind   filterKind
	op     Op
	column string
	value  any
	values []any
	like   likeMode
	fold   bool
	not    bool
	subs   []*Filter
}

// EQ returns a column = value predicate.
func EQ(column string, v any) *Filter {
	return &Filter{kind: kindCmp, op: OpEQ, column: column, value: v}
}

// NEQ returns a column <> value predicate.
func NEQ(column string, v any) *Filter {
	return &Filter{kind: kindCmp, op: OpNEQ, column: column, value: v}
}

// LT returns a column < value predicate.
func LT(column string, v any) *Filter {
	return &Filter{kind: kindCmp, op: OpLT, column: column, value: v}
}

// LTE returns a column <= value predicate.
func LTE(column string, v any) *Filter {
	return &Filter{kind: kindCmp, op: OpLTE, column: column, value: v}
}

// GT returns a column > value predicate.
func GT(column string, v any) *Filter {
	return &Filter{kind: kindCmp, op: OpGT, column: column, value: v}
}

// GTE returns a column >= value predicate.
func GTE(column string, v any) *Filter {
	return &Filter{kind: kindCmp, op: OpGTE, column: column, value: v}
}

// In returns a column IN (...) predicate. An empty list lowers to
// FALSE: nothing matches the empty set.
func In(column string, vs ...any) *Filter {
	return &Filter{kind: kindIn, column: column, values: vs}
}

// NotIn returns a column NOT IN (...) predicate. An empty list lowers
// to TRUE: everything is outside the empty set.
func NotIn(column string, vs ...any) *Filter {
	return &Filter{kind: kindIn, column: column, values: vs, not: true}
}

// Contains returns a substring-match predicate.
func Contains(column, v string) *Filter {
	return &Filter{kind: kindLike, column: column, value: v, like: likeContains}
}

// ContainsFold returns a case-insensitive substring-match predicate.
func ContainsFold(column, v string) *Filter {
	return &Filter{kind: kindLike, column: column, value: v, like: likeContains, fold: true}
}

// HasPrefix returns a prefix-match predicate.
func HasPrefix(column, v string) *Filter {
	return &Filter{kind: kindLike, column: column, value: v, like: likePrefix}
}

// HasSuffix returns a suffix-match predicate.
func HasSuffix(column, v string) *Filter {
	return &Filter{kind: kindLike, column: column, value: v, like: likeSuffix}
}

// IsNull returns a column IS NULL predicate.
func IsNull(column string) *Filter {
	return &Filter{kind: kindNull, column: column}
}

// NotNull returns a column IS NOT NULL predicate.
func NotNull(column string) *Filter {
	return &Filter{kind: kindNull, column: column, not: true}
}

// And conjoins predicates. Nil components are dropped; an empty
// conjunction is the empty predicate and a single component is
// returned as-is.
func And(fs ...*Filter) *Filter {
	fs = compact(fs)
	switch len(fs) {
	case 0:
		return nil
	case 1:
		return fs[0]
	}
	return &Filter{kind: kindAnd, subs: fs}
}

// Or disjoins predicates with the same collapsing rules as And.
func Or(fs ...*Filter) *Filter {
	fs = compact(fs)
	switch len(fs) {
	case 0:
		return nil
	case 1:
		return fs[0]
	}
	return &Filter{kind: kindOr, subs: fs}
}

// Not negates a predicate. Double negation, null checks and IN lists
// are simplified algebraically instead of emitting NOT.
func Not(f *Filter) *Filter {
	if f == nil {
		return nil
	}
	switch f.kind {
	case kindNot:
		return f.subs[0]
	case kindNull, kindIn:
		g := *f
		g.not = !f.not
		return &g
	}
	return &Filter{kind: kindNot, subs: []*Filter{f}}
}

func compact(fs []*Filter) []*Filter {
	out := fs[:0]
	for _, f := range fs {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// Lower writes the predicate to the builder. Placeholder ordinals
// continue from the builder's current position, so a filter can be
// appended after other bound clauses.
func (f *Filter) Lower(b *Builder) error {
	if f == nil {
		return nil
	}
	f.lower(b)
	return b.Err()
}

func (f *Filter) lower(b *Builder) {
	switch f.kind {
	case kindCmp:
		b.Ident(f.column).WriteString(" " + opSQL[f.op] + " ").Arg(f.value)
	case kindIn:
		if len(f.values) == 0 {
			if f.not {
				b.WriteString("TRUE")
			} else {
				b.WriteString("FALSE")
			}
			return
		}
		b.Ident(f.column)
		if f.not {
			b.WriteString(" NOT IN (")
		} else {
			b.WriteString(" IN (")
		}
		b.Args(f.values...).WriteByte(')')
	case kindLike:
		f.lowerLike(b)
	case kindNull:
		b.Ident(f.column)
		if f.not {
			b.WriteString(" IS NOT NULL")
		} else {
			b.WriteString(" IS NULL")
		}
	case kindAnd, kindOr:
		sep := " AND "
		if f.kind == kindOr {
			sep = " OR "
		}
		b.WriteByte('(')
		for i, sub := range f.subs {
			if i > 0 {
				b.WriteString(sep)
			}
			sub.lower(b)
		}
		b.WriteByte(')')
	case kindNot:
		b.WriteString("NOT (")
		f.subs[0].lower(b)
		b.WriteByte(')')
	}
}

func (f *Filter) lowerLike(b *Builder) {
	v, _ := f.value.(string)
	pattern := escapeLike(v)
	switch f.like {
	case likePrefix:
		pattern += "%"
	case likeSuffix:
		pattern = "%" + pattern
	default:
		pattern = "%" + pattern + "%"
	}
	op := " LIKE "
	if f.fold {
		if b.caps.Dialect == dialect.Postgres {
			op = " ILIKE "
		} else {
			b.WriteString("LOWER(")
			b.Ident(f.column)
			b.WriteString(") LIKE LOWER(")
			b.Arg(pattern)
			b.WriteByte(')')
			if b.caps.LikeEscape {
				b.WriteString(` ESCAPE '\'`)
			}
			return
		}
	}
	b.Ident(f.column).WriteString(op).Arg(pattern)
	if b.caps.LikeEscape {
		b.WriteString(` ESCAPE '\'`)
	}
}

// escapeLike escapes LIKE metacharacters in the literal part of a
// pattern; the user's text matches itself, never as a wildcard.
func escapeLike(s string) string {
	if !strings.ContainsAny(s, `%_\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	for _, r := range s {
		switch r {
		case '%', '_', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

package sql

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/lode-orm/lode/dialect"
)

// QueryCapacity selects buffer and parameter pre-reservation for a
// Builder. Picking the right preset avoids reallocation on the hot
// path for the common query shapes.
type QueryCapacity int

const (
	// SimpleSelect covers single-table selects with a few predicates.
	SimpleSelect QueryCapacity = iota
	// ComplexSelect covers joined or deeply filtered selects.
	ComplexSelect
	// InsertCapacity covers single-row inserts.
	InsertCapacity
	// UpdateCapacity covers single-row updates.
	UpdateCapacity
	// BulkInsert covers multi-row inserts.
	BulkInsert
)

func (c QueryCapacity) sizes() (buf, args int) {
	switch c {
	case ComplexSelect:
		return 512, 16
	case InsertCapacity:
		return 256, 12
	case UpdateCapacity:
		return 256, 12
	case BulkInsert:
		return 2048, 64
	default:
		return 128, 4
	}
}

// Builder accumulates a SQL fragment and its parameters. It dispenses
// placeholders in the dialect's style and quotes identifiers with the
// dialect's quote character. A Builder is not safe for concurrent use.
type Builder struct {
	caps dialect.Caps
	buf  bytes.Buffer
	args []any
	next int
	mark int
	errs []error
}

// NewBuilder returns a Builder for the given dialect capabilities,
// pre-sized for the expected query shape.
func NewBuilder(caps dialect.Caps, capacity QueryCapacity) *Builder {
	bufCap, argCap := capacity.sizes()
	b := &Builder{caps: caps, args: make([]any, 0, argCap)}
	b.buf.Grow(bufCap)
	return b
}

// Caps returns the builder's dialect capabilities.
func (b *Builder) Caps() dialect.Caps { return b.caps }

// WriteString appends raw SQL text. The text must not contain user
// data; values go through Arg.
func (b *Builder) WriteString(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// WriteByte appends a single byte of raw SQL text.
func (b *Builder) WriteByte(c byte) *Builder {
	b.buf.WriteByte(c)
	return b
}

// Ident quotes the identifier per dialect and appends it. Identifiers
// containing the dialect's quote character are rejected.
func (b *Builder) Ident(name string) *Builder {
	if strings.ContainsRune(name, b.caps.Quote) {
		b.errs = append(b.errs, fmt.Errorf("dialect/sql: invalid identifier %q", name))
		return b
	}
	b.buf.WriteRune(b.caps.Quote)
	b.buf.WriteString(name)
	b.buf.WriteRune(b.caps.Quote)
	return b
}

// Arg appends a dispensed placeholder and records the value.
func (b *Builder) Arg(v any) *Builder {
	b.next++
	switch b.caps.Placeholder {
	case dialect.PlaceholderDollar:
		b.buf.WriteByte('$')
		b.buf.WriteString(strconv.Itoa(b.next))
	case dialect.PlaceholderNamed:
		b.buf.WriteString("@p")
		b.buf.WriteString(strconv.Itoa(b.next))
	default:
		b.buf.WriteByte('?')
	}
	b.args = append(b.args, v)
	return b
}

// Args appends a comma-separated placeholder list for vs.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.buf.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// Sep appends s only if something was written since the previous Sep
// call. Use it to join list items without tracking a first-item flag.
func (b *Builder) Sep(s string) *Builder {
	if b.buf.Len() > b.mark {
		b.buf.WriteString(s)
	}
	b.mark = b.buf.Len()
	return b
}

// Len returns the number of bytes written so far.
func (b *Builder) Len() int { return b.buf.Len() }

// ArgCount returns the number of placeholders dispensed so far.
func (b *Builder) ArgCount() int { return b.next }

// Err returns the first accumulated error, if any.
func (b *Builder) Err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return b.errs[0]
}

// Build moves out the accumulated SQL string and parameter list.
// The builder remains usable after Build; call Reset to reuse it.
func (b *Builder) Build() (string, []any) {
	return b.buf.String(), b.args
}

// Reset clears the builder for reuse, keeping allocated capacity.
func (b *Builder) Reset() {
	b.buf.Reset()
	b.args = b.args[:0]
	b.next = 0
	b.mark = 0
	b.errs = b.errs[:0]
}

// Package parser turns schema-language source text into an ast.Schema.
//
// The grammar is PEG-style and parsed by ordered-choice recursive
// descent over raw bytes:
//
//	schema     = (model | enum | type | view | raw_sql)*
//	model      = "model" ident "{" field* model_attr* "}"
//	enum       = "enum" ident "{" variant* "}"
//	type       = "type" ident "{" field* "}"
//	view       = "view" ident "{" field* model_attr* "}"
//	raw_sql    = "sql" string
//	field      = ident field_type ("[]")? ("?")? field_attr*
//	field_attr = "@" ident ("(" arg_list ")")?
//	model_attr = "@@" ident ("(" arg_list ")")?
//
// "///" documentation comments attach to the following declaration;
// "//" line comments are discarded. The parser never panics: it fails
// with a single *SyntaxError carrying the byte offset and the rule it
// expected. An error inside a model body aborts that model and skips
// to its closing brace so the reported position stays precise.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lode-orm/lode/schema/ast"
)

// SyntaxError is the single error a failed parse reports.
type SyntaxError struct {
	Offset   int
	Expected string
	Msg      string
}

func (e *SyntaxError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("lode/schema: syntax error at offset %d: %s", e.Offset, e.Msg)
	}
	return fmt.Sprintf("lode/schema: syntax error at offset %d: expected %s", e.Offset, e.Expected)
}

// Parse parses src into a schema. On failure it returns the partially
// parsed schema together with the first error encountered.
func Parse(src []byte) (*ast.Schema, error) {
	p := &parser{src: src}
	s := p.schema()
	if p.err != nil {
		return s, p.err
	}
	return s, nil
}

type parser struct {
	src []byte
	pos int
	err *SyntaxError
}

// fail records the first error; later failures are ignored so the
// user sees the earliest offending position.
func (p *parser) fail(offset int, expected, msg string) {
	if p.err == nil {
		p.err = &SyntaxError{Offset: offset, Expected: expected, Msg: msg}
	}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

// skipSpace consumes whitespace and "//" comments, returning any "///"
// documentation text seen on the way.
func (p *parser) skipSpace() string {
	var doc []string
	for !p.eof() {
		c := p.src[p.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			p.pos++
		case c == '/' && p.pos+2 < len(p.src) && p.src[p.pos+1] == '/' && p.src[p.pos+2] == '/':
			p.pos += 3
			start := p.pos
			for !p.eof() && p.src[p.pos] != '\n' {
				p.pos++
			}
			doc = append(doc, strings.TrimSpace(string(p.src[start:p.pos])))
		case c == '/' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '/':
			for !p.eof() && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return strings.Join(doc, "\n")
		}
	}
	return strings.Join(doc, "\n")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// ident consumes an identifier. It does not skip leading space.
func (p *parser) ident(rule string) (ast.Ident, bool) {
	start := p.pos
	if p.eof() || !isIdentStart(p.src[p.pos]) {
		p.fail(p.pos, rule, "")
		return ast.Ident{}, false
	}
	for !p.eof() && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	return ast.Ident{
		Name: string(p.src[start:p.pos]),
		Span: ast.Span{Start: start, End: p.pos},
	}, true
}

// lit consumes the exact literal, returning false without consuming
// on mismatch.
func (p *parser) lit(s string) bool {
	if p.pos+len(s) > len(p.src) {
		return false
	}
	if string(p.src[p.pos:p.pos+len(s)]) != s {
		return false
	}
	p.pos += len(s)
	return true
}

// keyword matches an identifier-like literal with a word boundary.
func (p *parser) keyword(s string) bool {
	end := p.pos + len(s)
	if end > len(p.src) || string(p.src[p.pos:end]) != s {
		return false
	}
	if end < len(p.src) && isIdentPart(p.src[end]) {
		return false
	}
	p.pos = end
	return true
}

func (p *parser) expect(c byte, rule string) bool {
	p.skipSpace()
	if p.peek() != c {
		p.fail(p.pos, rule, fmt.Sprintf("expected %q", string(c)))
		return false
	}
	p.pos++
	return true
}

// stringLit consumes a double-quoted string with backslash escapes.
func (p *parser) stringLit() (string, bool) {
	if p.peek() != '"' {
		return "", false
	}
	start := p.pos
	p.pos++
	var sb strings.Builder
	for !p.eof() {
		c := p.src[p.pos]
		switch c {
		case '"':
			p.pos++
			return sb.String(), true
		case '\\':
			p.pos++
			if p.eof() {
				break
			}
			switch p.src[p.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '"':
				sb.WriteByte(p.src[p.pos])
			default:
				sb.WriteByte('\\')
				sb.WriteByte(p.src[p.pos])
			}
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	p.fail(start, "string literal", "unterminated string")
	return "", false
}

// schema parses the whole file. Top-level parse errors inside a
// declaration body skip to the next closing brace so parsing can
// continue; the first error is still what Parse reports.
func (p *parser) schema() *ast.Schema {
	s := &ast.Schema{}
	for {
		doc := p.skipSpace()
		if p.eof() {
			return s
		}
		start := p.pos
		switch {
		case p.keyword("model"):
			if m := p.model(doc, start); m != nil {
				s.Models = append(s.Models, m)
			}
		case p.keyword("enum"):
			if e := p.enum(doc, start); e != nil {
				s.Enums = append(s.Enums, e)
			}
		case p.keyword("type"):
			if t := p.composite(doc, start); t != nil {
				s.Types = append(s.Types, t)
			}
		case p.keyword("view"):
			if v := p.view(doc, start); v != nil {
				s.Views = append(s.Views, v)
			}
		case p.keyword("sql"):
			p.skipSpace()
			raw, ok := p.stringLit()
			if !ok {
				p.fail(p.pos, "raw SQL string", "")
				p.recover()
				continue
			}
			s.Raw = append(s.Raw, ast.RawSQL{SQL: raw, Span: ast.Span{Start: start, End: p.pos}})
		default:
			p.fail(p.pos, "top-level declaration (model, enum, type, view or sql)", "")
			p.recover()
		}
	}
}

// recover skips past the next closing brace, or to EOF, so the parse
// can resume at a top-level boundary.
func (p *parser) recover() {
	for !p.eof() {
		if p.src[p.pos] == '}' {
			p.pos++
			return
		}
		p.pos++
	}
}

func (p *parser) model(doc string, start int) *ast.Model {
	p.skipSpace()
	id, ok := p.ident("model name")
	if !ok {
		p.recover()
		return nil
	}
	if !p.expect('{', "model body") {
		p.recover()
		return nil
	}
	m := &ast.Model{Ident: id, Doc: doc}
	if !p.body(&m.Fields, &m.Attributes, true) {
		return nil
	}
	m.Span = ast.Span{Start: start, End: p.pos}
	return m
}

func (p *parser) composite(doc string, start int) *ast.CompositeType {
	p.skipSpace()
	id, ok := p.ident("type name")
	if !ok {
		p.recover()
		return nil
	}
	if !p.expect('{', "type body") {
		p.recover()
		return nil
	}
	t := &ast.CompositeType{Ident: id, Doc: doc}
	var attrs []*ast.Attribute
	if !p.body(&t.Fields, &attrs, false) {
		return nil
	}
	t.Span = ast.Span{Start: start, End: p.pos}
	return t
}

func (p *parser) view(doc string, start int) *ast.View {
	p.skipSpace()
	id, ok := p.ident("view name")
	if !ok {
		p.recover()
		return nil
	}
	if !p.expect('{', "view body") {
		p.recover()
		return nil
	}
	v := &ast.View{Ident: id, Doc: doc}
	var attrs []*ast.Attribute
	if !p.body(&v.Fields, &attrs, true) {
		return nil
	}
	// A view body may carry its defining statement as @@sql("...").
	for _, a := range attrs {
		if a.Name == "sql" {
			if s, ok := a.FirstString(); ok {
				v.SQL = s
			}
		}
	}
	v.Span = ast.Span{Start: start, End: p.pos}
	return v
}

// body parses fields followed by model-level attributes up to the
// closing brace. It returns false after recovering from an error.
func (p *parser) body(fields *[]*ast.Field, attrs *[]*ast.Attribute, allowAttrs bool) bool {
	for {
		doc := p.skipSpace()
		switch {
		case p.eof():
			p.fail(p.pos, "\"}\"", "unexpected end of input in body")
			return false
		case p.peek() == '}':
			p.pos++
			return true
		case p.peek() == '@':
			if !allowAttrs || p.pos+1 >= len(p.src) || p.src[p.pos+1] != '@' {
				p.fail(p.pos, "field or \"}\"", "")
				p.recover()
				return false
			}
			p.pos += 2
			a, ok := p.attribute(true)
			if !ok {
				p.recover()
				return false
			}
			*attrs = append(*attrs, a)
		default:
			f, ok := p.field(doc)
			if !ok {
				p.recover()
				return false
			}
			*fields = append(*fields, f)
		}
	}
}

func (p *parser) field(doc string) (*ast.Field, bool) {
	start := p.pos
	id, ok := p.ident("field name")
	if !ok {
		return nil, false
	}
	p.skipSpace()
	tid, ok := p.ident("field type")
	if !ok {
		return nil, false
	}
	typ := ast.Named(tid.Name)
	if s, ok := ast.ParseScalar(tid.Name); ok {
		typ = ast.Scalar(s)
	}
	var mod ast.TypeModifier
	if p.lit("[]") {
		mod.List = true
	}
	if p.lit("?") {
		mod.Optional = true
	}
	f := &ast.Field{Ident: id, Type: typ, Modifier: mod, Doc: doc}
	for {
		p.skipSpace()
		if p.peek() != '@' {
			break
		}
		if p.pos+1 < len(p.src) && p.src[p.pos+1] == '@' {
			// Model-level attribute; the caller handles it.
			break
		}
		p.pos++
		a, ok := p.attribute(false)
		if !ok {
			return nil, false
		}
		f.Attributes = append(f.Attributes, a)
	}
	f.Span = ast.Span{Start: start, End: p.pos}
	return f, true
}

func (p *parser) enum(doc string, start int) *ast.Enum {
	p.skipSpace()
	id, ok := p.ident("enum name")
	if !ok {
		p.recover()
		return nil
	}
	if !p.expect('{', "enum body") {
		p.recover()
		return nil
	}
	e := &ast.Enum{Ident: id, Doc: doc}
	for {
		vdoc := p.skipSpace()
		if p.eof() {
			p.fail(p.pos, "\"}\"", "unexpected end of input in enum body")
			return nil
		}
		if p.peek() == '}' {
			p.pos++
			break
		}
		vid, ok := p.ident("enum variant")
		if !ok {
			p.recover()
			return nil
		}
		v := &ast.EnumVariant{Ident: vid, Doc: vdoc}
		p.skipSpace()
		if p.peek() == '@' && !(p.pos+1 < len(p.src) && p.src[p.pos+1] == '@') {
			p.pos++
			a, ok := p.attribute(false)
			if !ok {
				p.recover()
				return nil
			}
			if a.Name == ast.AttrMap {
				if s, ok := a.FirstString(); ok {
					v.Mapped = s
				}
			}
		}
		e.Variants = append(e.Variants, v)
	}
	e.Span = ast.Span{Start: start, End: p.pos}
	return e
}

func (p *parser) attribute(block bool) (*ast.Attribute, bool) {
	start := p.pos
	id, ok := p.ident("attribute name")
	if !ok {
		return nil, false
	}
	a := &ast.Attribute{Name: id.Name, Block: block}
	if p.peek() == '(' {
		p.pos++
		for {
			p.skipSpace()
			if p.peek() == ')' {
				p.pos++
				break
			}
			arg, ok := p.attributeArg()
			if !ok {
				return nil, false
			}
			a.Args = append(a.Args, arg)
			p.skipSpace()
			switch p.peek() {
			case ',':
				p.pos++
			case ')':
			default:
				p.fail(p.pos, "\",\" or \")\" in attribute arguments", "")
				return nil, false
			}
		}
	}
	a.Span = ast.Span{Start: start, End: p.pos}
	return a, true
}

func (p *parser) attributeArg() (ast.AttributeArg, bool) {
	var arg ast.AttributeArg
	save, savedErr := p.pos, p.err
	if id, ok := p.ident("argument"); ok {
		p.skipSpace()
		if p.peek() == ':' {
			p.pos++
			p.skipSpace()
			v, ok := p.attributeValue()
			if !ok {
				return arg, false
			}
			arg.Name = id.Name
			arg.Value = v
			return arg, true
		}
		// Not a named argument; re-parse as a value.
		p.pos, p.err = save, savedErr
	} else {
		p.pos, p.err = save, savedErr
	}
	v, ok := p.attributeValue()
	if !ok {
		return arg, false
	}
	arg.Value = v
	return arg, true
}

func (p *parser) attributeValue() (ast.AttributeValue, bool) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == '"':
		s, ok := p.stringLit()
		if !ok {
			return ast.AttributeValue{}, false
		}
		return ast.StringValue(s), true
	case c == '[':
		p.pos++
		var refs []string
		for {
			p.skipSpace()
			if p.peek() == ']' {
				p.pos++
				return ast.FieldRefsValue(refs...), true
			}
			id, ok := p.ident("field reference")
			if !ok {
				return ast.AttributeValue{}, false
			}
			refs = append(refs, id.Name)
			p.skipSpace()
			if p.peek() == ',' {
				p.pos++
			}
		}
	case c == '{':
		p.pos++
		v := ast.AttributeValue{Kind: ast.ValueMap}
		for {
			p.skipSpace()
			if p.peek() == '}' {
				p.pos++
				return v, true
			}
			id, ok := p.ident("map key")
			if !ok {
				return ast.AttributeValue{}, false
			}
			if !p.expect(':', "\":\" after map key") {
				return ast.AttributeValue{}, false
			}
			val, ok := p.attributeValue()
			if !ok {
				return ast.AttributeValue{}, false
			}
			v.Fields = append(v.Fields, ast.AttributeArg{Name: id.Name, Value: val})
			p.skipSpace()
			if p.peek() == ',' {
				p.pos++
			}
		}
	case c == '-' || (c >= '0' && c <= '9'):
		return p.numberLit()
	case isIdentStart(c):
		id, _ := p.ident("value")
		switch id.Name {
		case "true":
			return ast.BoolValue(true), true
		case "false":
			return ast.BoolValue(false), true
		case "null":
			return ast.NullValue(), true
		}
		if p.peek() == '(' {
			p.pos++
			fn := ast.AttributeValue{Kind: ast.ValueFunction, Fn: id.Name}
			for {
				p.skipSpace()
				if p.peek() == ')' {
					p.pos++
					return fn, true
				}
				arg, ok := p.attributeArg()
				if !ok {
					return ast.AttributeValue{}, false
				}
				fn.Args = append(fn.Args, arg)
				p.skipSpace()
				if p.peek() == ',' {
					p.pos++
				}
			}
		}
		return ast.IdentValue(id.Name), true
	default:
		p.fail(p.pos, "attribute value", "")
		return ast.AttributeValue{}, false
	}
}

func (p *parser) numberLit() (ast.AttributeValue, bool) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	float := false
	for !p.eof() {
		c := p.src[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' && !float {
			float = true
			p.pos++
			continue
		}
		break
	}
	text := string(p.src[start:p.pos])
	if float {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.fail(start, "float literal", err.Error())
			return ast.AttributeValue{}, false
		}
		return ast.FloatValue(f), true
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		p.fail(start, "integer literal", err.Error())
		return ast.AttributeValue{}, false
	}
	return ast.IntValue(i), true
}

// Package ast defines the typed schema tree produced by the parser.
// It is the canonical representation shared by the validator, the
// introspector, the differ and the code generator.
package ast

import (
	"fmt"
	"strings"
)

// Span is a half-open byte interval [Start, End) into the source text.
// Every node carries one so diagnostics can point at the offending text.
type Span struct {
	Start int
	End   int
}

// IsZero reports whether the span carries no position information.
func (s Span) IsZero() bool { return s.Start == 0 && s.End == 0 }

func (s Span) String() string { return fmt.Sprintf("[%d,%d)", s.Start, s.End) }

// Ident is a named identifier with its source position.
type Ident struct {
	Name string
	Span Span
}

// ScalarType enumerates the built-in scalar types of the schema language.
type ScalarType int

const (
	ScalarInvalid ScalarType = iota
	ScalarInt
	ScalarBigInt
	ScalarFloat
	ScalarDecimal
	ScalarString
	ScalarBoolean
	ScalarDateTime
	ScalarDate
	ScalarTime
	ScalarJSON
	ScalarBytes
	ScalarUUID
)

var scalarNames = map[ScalarType]string{
	ScalarInt:      "Int",
	ScalarBigInt:   "BigInt",
	ScalarFloat:    "Float",
	ScalarDecimal:  "Decimal",
	ScalarString:   "String",
	ScalarBoolean:  "Boolean",
	ScalarDateTime: "DateTime",
	ScalarDate:     "Date",
	ScalarTime:     "Time",
	ScalarJSON:     "Json",
	ScalarBytes:    "Bytes",
	ScalarUUID:     "Uuid",
}

// String returns the schema-language spelling of the scalar.
func (s ScalarType) String() string {
	if n, ok := scalarNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Scalar(%d)", int(s))
}

// ParseScalar maps a schema-language type name to its scalar, if any.
func ParseScalar(name string) (ScalarType, bool) {
	for s, n := range scalarNames {
		if n == name {
			return s, true
		}
	}
	return ScalarInvalid, false
}

// TypeKind discriminates the variants of FieldType.
type TypeKind int

const (
	// KindNamed is an unresolved type reference. The parser emits it for
	// every non-scalar identifier; the validator rewrites it to one of
	// the resolved kinds below.
	KindNamed TypeKind = iota
	KindScalar
	KindEnum
	KindModel
	KindComposite
	KindUnsupported
)

// FieldType is the tagged union over scalar, enum, model, composite
// and unsupported (raw database) types.
type FieldType struct {
	Kind   TypeKind
	Scalar ScalarType // set when Kind == KindScalar
	Name   string     // referenced type name for named/enum/model/composite
	Raw    string     // native type text for KindUnsupported
}

// Named returns an unresolved reference to the given type name.
func Named(name string) FieldType { return FieldType{Kind: KindNamed, Name: name} }

// Scalar returns a scalar field type.
func Scalar(s ScalarType) FieldType { return FieldType{Kind: KindScalar, Scalar: s} }

// Unsupported returns a field type carrying a raw native type that has
// no scalar mapping.
func Unsupported(raw string) FieldType { return FieldType{Kind: KindUnsupported, Raw: raw} }

// String returns the schema-language spelling of the type.
func (t FieldType) String() string {
	switch t.Kind {
	case KindScalar:
		return t.Scalar.String()
	case KindUnsupported:
		return fmt.Sprintf("Unsupported(%q)", t.Raw)
	default:
		return t.Name
	}
}

// TypeModifier carries the optionality and cardinality bits of a field.
// The two bits are independent: a list may itself be optional.
type TypeModifier struct {
	Optional bool
	List     bool
}

// String returns the suffix form of the modifier ("?", "[]", "[]?").
func (m TypeModifier) String() string {
	var sb strings.Builder
	if m.List {
		sb.WriteString("[]")
	}
	if m.Optional {
		sb.WriteString("?")
	}
	return sb.String()
}

// Field is a single model, composite-type or view field.
type Field struct {
	Ident      Ident
	Type       FieldType
	Modifier   TypeModifier
	Attributes []*Attribute
	Doc        string
	Span       Span
}

// Name returns the field name.
func (f *Field) Name() string { return f.Ident.Name }

// Attribute returns the field attribute with the given name, if present.
func (f *Field) Attribute(name string) (*Attribute, bool) {
	for _, a := range f.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// HasAttribute reports whether the field carries the named attribute.
func (f *Field) HasAttribute(name string) bool {
	_, ok := f.Attribute(name)
	return ok
}

// ColumnName returns the database column name, honoring @map.
func (f *Field) ColumnName() string {
	if a, ok := f.Attribute(AttrMap); ok {
		if s, ok := a.FirstString(); ok {
			return s
		}
	}
	return f.Ident.Name
}

// Model is a named entity mapped to a database table.
type Model struct {
	Ident      Ident
	Fields     []*Field
	Attributes []*Attribute // model-level (@@) attributes
	Doc        string
	Span       Span
}

// Name returns the model name.
func (m *Model) Name() string { return m.Ident.Name }

// Field returns the field with the given name, if present.
// Insertion order of fields is preserved in the slice.
func (m *Model) Field(name string) (*Field, bool) {
	for _, f := range m.Fields {
		if f.Ident.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Attribute returns the model-level attribute with the given name.
func (m *Model) Attribute(name string) (*Attribute, bool) {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// TableName returns the database table name, honoring @@map.
func (m *Model) TableName() string {
	if a, ok := m.Attribute(AttrMap); ok {
		if s, ok := a.FirstString(); ok {
			return s
		}
	}
	return m.Ident.Name
}

// IDFields returns the primary-key fields of the model: the single
// field annotated with @id, or the fields named by @@id. The returned
// slice is empty when the model has no primary-key source; the
// validator reports that as an error.
func (m *Model) IDFields() []*Field {
	for _, f := range m.Fields {
		if f.HasAttribute(AttrID) {
			return []*Field{f}
		}
	}
	a, ok := m.Attribute(AttrID)
	if !ok {
		return nil
	}
	refs, ok := a.FirstFieldRefs()
	if !ok {
		return nil
	}
	fields := make([]*Field, 0, len(refs))
	for _, r := range refs {
		if f, ok := m.Field(r); ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// EnumVariant is a single enum value, optionally remapped to a
// different database value with @map.
type EnumVariant struct {
	Ident Ident
	// Mapped is the database value override; empty means the variant
	// name itself.
	Mapped string
	Doc    string
}

// Value returns the database value of the variant.
func (v *EnumVariant) Value() string {
	if v.Mapped != "" {
		return v.Mapped
	}
	return v.Ident.Name
}

// Enum is a named set of variants.
type Enum struct {
	Ident    Ident
	Variants []*EnumVariant
	Doc      string
	Span     Span
}

// Name returns the enum name.
func (e *Enum) Name() string { return e.Ident.Name }

// Variant returns the variant with the given name, if present.
func (e *Enum) Variant(name string) (*EnumVariant, bool) {
	for _, v := range e.Variants {
		if v.Ident.Name == name {
			return v, true
		}
	}
	return nil, false
}

// CompositeType is an embeddable group of fields. It carries no
// relations and no primary key.
type CompositeType struct {
	Ident  Ident
	Fields []*Field
	Doc    string
	Span   Span
}

// Name returns the composite type name.
func (t *CompositeType) Name() string { return t.Ident.Name }

// Field returns the field with the given name, if present.
func (t *CompositeType) Field(name string) (*Field, bool) {
	for _, f := range t.Fields {
		if f.Ident.Name == name {
			return f, true
		}
	}
	return nil, false
}

// View is a named read-only projection, optionally backed by a raw SQL
// body kept under version control.
type View struct {
	Ident  Ident
	Fields []*Field
	SQL    string // optional raw body
	Doc    string
	Span   Span
}

// Name returns the view name.
func (v *View) Name() string { return v.Ident.Name }

// RawSQL is a verbatim SQL block carried through from the schema file.
type RawSQL struct {
	SQL  string
	Span Span
}

// Schema is the root of the tree. Top-level declarations keep their
// source order; lookups go through the name index built on demand.
// Relations are populated by the validator; a freshly parsed schema has
// none.
type Schema struct {
	Models    []*Model
	Enums     []*Enum
	Types     []*CompositeType
	Views     []*View
	Raw       []RawSQL
	Relations []*Relation
}

// Model returns the model with the given name, if present.
func (s *Schema) Model(name string) (*Model, bool) {
	for _, m := range s.Models {
		if m.Ident.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Enum returns the enum with the given name, if present.
func (s *Schema) Enum(name string) (*Enum, bool) {
	for _, e := range s.Enums {
		if e.Ident.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Type returns the composite type with the given name, if present.
func (s *Schema) Type(name string) (*CompositeType, bool) {
	for _, t := range s.Types {
		if t.Ident.Name == name {
			return t, true
		}
	}
	return nil, false
}

// View returns the view with the given name, if present.
func (s *Schema) View(name string) (*View, bool) {
	for _, v := range s.Views {
		if v.Ident.Name == name {
			return v, true
		}
	}
	return nil, false
}

// RelationsOf returns the resolved relations that originate from the
// given model.
func (s *Schema) RelationsOf(model string) []*Relation {
	var rels []*Relation
	for _, r := range s.Relations {
		if r.FromModel == model {
			rels = append(rels, r)
		}
	}
	return rels
}

package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Reserved attribute names. Field-level attributes use a single "@";
// the same names with Block set correspond to the "@@" model-level form.
const (
	AttrID        = "id"
	AttrAuto      = "auto"
	AttrUnique    = "unique"
	AttrIndex     = "index"
	AttrDefault   = "default"
	AttrUpdatedAt = "updatedAt"
	AttrMap       = "map"
	AttrDB        = "db"
	AttrRelation  = "relation"
	AttrOmit      = "omit"
)

// ValueKind discriminates the variants of AttributeValue.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt
	ValueFloat
	ValueString
	ValueIdent
	ValueFieldRef
	ValueFieldRefList
	ValueFunction
	ValueMap
)

// AttributeValue is the tagged union of values an attribute argument
// can carry.
type AttributeValue struct {
	Kind   ValueKind
	Bool   bool
	Int    int64
	Float  float64
	Str    string         // string literal, ident or field-ref name
	Refs   []string       // field-ref list
	Fn     string         // function name for ValueFunction
	Args   []AttributeArg // function arguments
	Fields []AttributeArg // named entries for ValueMap
}

// NullValue returns the null literal value.
func NullValue() AttributeValue { return AttributeValue{Kind: ValueNull} }

// BoolValue returns a boolean literal value.
func BoolValue(b bool) AttributeValue { return AttributeValue{Kind: ValueBool, Bool: b} }

// IntValue returns an integer literal value.
func IntValue(i int64) AttributeValue { return AttributeValue{Kind: ValueInt, Int: i} }

// FloatValue returns a float literal value.
func FloatValue(f float64) AttributeValue { return AttributeValue{Kind: ValueFloat, Float: f} }

// StringValue returns a string literal value.
func StringValue(s string) AttributeValue { return AttributeValue{Kind: ValueString, Str: s} }

// IdentValue returns a bare identifier value (enum variant references,
// sort orders and the like).
func IdentValue(s string) AttributeValue { return AttributeValue{Kind: ValueIdent, Str: s} }

// FieldRefValue returns a reference to a single field.
func FieldRefValue(s string) AttributeValue { return AttributeValue{Kind: ValueFieldRef, Str: s} }

// FieldRefsValue returns a reference list, e.g. [a, b].
func FieldRefsValue(refs ...string) AttributeValue {
	return AttributeValue{Kind: ValueFieldRefList, Refs: refs}
}

// FunctionValue returns a function call value, e.g. now() or uuid().
func FunctionValue(name string, args ...AttributeArg) AttributeValue {
	return AttributeValue{Kind: ValueFunction, Fn: name, Args: args}
}

// String renders the value in schema-language syntax.
func (v AttributeValue) String() string {
	switch v.Kind {
	case ValueNull:
		return "null"
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueString:
		return strconv.Quote(v.Str)
	case ValueIdent, ValueFieldRef:
		return v.Str
	case ValueFieldRefList:
		return "[" + strings.Join(v.Refs, ", ") + "]"
	case ValueFunction:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = a.String()
		}
		return v.Fn + "(" + strings.Join(args, ", ") + ")"
	case ValueMap:
		entries := make([]string, len(v.Fields))
		for i, f := range v.Fields {
			entries[i] = f.String()
		}
		return "{" + strings.Join(entries, ", ") + "}"
	default:
		return fmt.Sprintf("value(%d)", int(v.Kind))
	}
}

// AttributeArg is a positional or named argument. A positional argument
// has an empty Name.
type AttributeArg struct {
	Name  string
	Value AttributeValue
}

// String renders the argument in schema-language syntax.
func (a AttributeArg) String() string {
	if a.Name != "" {
		return a.Name + ": " + a.Value.String()
	}
	return a.Value.String()
}

// Attribute is a field-level ("@") or model-level ("@@") annotation.
type Attribute struct {
	Name  string
	Args  []AttributeArg
	Block bool // true for the "@@" form
	Span  Span
}

// Arg returns the named argument, if present.
func (a *Attribute) Arg(name string) (AttributeValue, bool) {
	for _, arg := range a.Args {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return AttributeValue{}, false
}

// Positional returns the i-th positional argument, if present.
func (a *Attribute) Positional(i int) (AttributeValue, bool) {
	n := 0
	for _, arg := range a.Args {
		if arg.Name != "" {
			continue
		}
		if n == i {
			return arg.Value, true
		}
		n++
	}
	return AttributeValue{}, false
}

// FirstString returns the first positional argument as a string
// literal, if it is one.
func (a *Attribute) FirstString() (string, bool) {
	v, ok := a.Positional(0)
	if !ok || v.Kind != ValueString {
		return "", false
	}
	return v.Str, true
}

// FirstFieldRefs returns the first positional argument as a field
// reference list, if it is one.
func (a *Attribute) FirstFieldRefs() ([]string, bool) {
	v, ok := a.Positional(0)
	if !ok || v.Kind != ValueFieldRefList {
		return nil, false
	}
	return v.Refs, true
}

// FieldRefs returns the named argument as a field reference list.
func (a *Attribute) FieldRefs(name string) ([]string, bool) {
	v, ok := a.Arg(name)
	if !ok || v.Kind != ValueFieldRefList {
		return nil, false
	}
	return v.Refs, true
}

// String renders the attribute in schema-language syntax.
func (a *Attribute) String() string {
	prefix := "@"
	if a.Block {
		prefix = "@@"
	}
	if len(a.Args) == 0 {
		return prefix + a.Name
	}
	args := make([]string, len(a.Args))
	for i, arg := range a.Args {
		args[i] = arg.String()
	}
	return prefix + a.Name + "(" + strings.Join(args, ", ") + ")"
}

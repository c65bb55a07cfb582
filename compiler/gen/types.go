package gen

import (
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"

	"github.com/lode-orm/lode/schema/ast"
)

// acronyms are field-name tokens kept fully uppercase in generated
// identifiers.
var acronyms = map[string]string{
	"id":   "ID",
	"uuid": "UUID",
	"url":  "URL",
	"uri":  "URI",
	"api":  "API",
	"json": "JSON",
	"sql":  "SQL",
	"html": "HTML",
	"ip":   "IP",
}

// exportName turns a schema identifier into an exported Go name,
// uppercasing common acronyms (authorId becomes AuthorID).
func exportName(name string) string {
	var sb strings.Builder
	for _, tok := range strings.Split(inflect.Underscore(name), "_") {
		if tok == "" {
			continue
		}
		if a, ok := acronyms[tok]; ok {
			sb.WriteString(a)
			continue
		}
		sb.WriteString(inflect.Capitalize(tok))
	}
	return sb.String()
}

// goType maps a schema field to its Go type. Optional scalars become
// pointers; lists become slices; byte- and JSON-typed fields keep nil
// as their absent value instead of a pointer.
func goType(s *ast.Schema, f *ast.Field) jen.Code {
	base := baseType(s, f)
	if f.Modifier.List {
		return jen.Index().Add(base)
	}
	if f.Modifier.Optional && !nilable(f) {
		return jen.Op("*").Add(base)
	}
	return base
}

func baseType(s *ast.Schema, f *ast.Field) jen.Code {
	switch f.Type.Kind {
	case ast.KindScalar:
		switch f.Type.Scalar {
		case ast.ScalarInt:
			return jen.Int()
		case ast.ScalarBigInt:
			return jen.Int64()
		case ast.ScalarFloat:
			return jen.Float64()
		case ast.ScalarDecimal, ast.ScalarString, ast.ScalarUUID:
			return jen.String()
		case ast.ScalarBoolean:
			return jen.Bool()
		case ast.ScalarDateTime, ast.ScalarDate, ast.ScalarTime:
			return jen.Qual("time", "Time")
		case ast.ScalarJSON:
			return jen.Qual("encoding/json", "RawMessage")
		case ast.ScalarBytes:
			return jen.Index().Byte()
		}
	case ast.KindEnum:
		return jen.Id(exportName(f.Type.Name))
	case ast.KindComposite:
		return jen.Qual("encoding/json", "RawMessage")
	case ast.KindNamed:
		if _, ok := s.Enum(f.Type.Name); ok {
			return jen.Id(exportName(f.Type.Name))
		}
		if _, ok := s.Type(f.Type.Name); ok {
			return jen.Qual("encoding/json", "RawMessage")
		}
	}
	return jen.Any()
}

// nilable reports whether the field's Go type already has a natural
// nil, making an optional pointer redundant.
func nilable(f *ast.Field) bool {
	if f.Type.Kind == ast.KindComposite {
		return true
	}
	if f.Type.Kind == ast.KindScalar {
		return f.Type.Scalar == ast.ScalarJSON || f.Type.Scalar == ast.ScalarBytes
	}
	if f.Type.Kind == ast.KindNamed {
		return false
	}
	return false
}

// predicateType names the dialect/sql typed-field constructor for a
// column. Columns without a dedicated field type compare as strings.
func predicateType(s *ast.Schema, f *ast.Field) string {
	if f.Modifier.List {
		return "StringField"
	}
	switch f.Type.Kind {
	case ast.KindScalar:
		switch f.Type.Scalar {
		case ast.ScalarInt:
			return "IntField"
		case ast.ScalarBigInt:
			return "Int64Field"
		case ast.ScalarFloat:
			return "FloatField"
		case ast.ScalarBoolean:
			return "BoolField"
		case ast.ScalarDateTime, ast.ScalarDate, ast.ScalarTime:
			return "TimeField"
		}
	}
	return "StringField"
}

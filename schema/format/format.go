// Package format renders an ast.Schema back to canonical schema-language
// text. The printer is idempotent: parsing its output yields the same
// tree, which is what keeps "lode format" stable across runs.
package format

import (
	"strconv"
	"strings"

	"github.com/lode-orm/lode/schema/ast"
)

// Schema renders the whole schema. Declarations keep their source order
// and are separated by a single blank line.
func Schema(s *ast.Schema) string {
	var sb strings.Builder
	var blocks []string
	for _, e := range s.Enums {
		blocks = append(blocks, Enum(e))
	}
	for _, t := range s.Types {
		blocks = append(blocks, CompositeType(t))
	}
	for _, m := range s.Models {
		blocks = append(blocks, Model(m))
	}
	for _, v := range s.Views {
		blocks = append(blocks, View(v))
	}
	for _, r := range s.Raw {
		blocks = append(blocks, "sql "+strconv.Quote(r.SQL))
	}
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Model renders a single model block.
func Model(m *ast.Model) string {
	var sb strings.Builder
	writeDoc(&sb, m.Doc, "")
	sb.WriteString("model ")
	sb.WriteString(m.Ident.Name)
	sb.WriteString(" {\n")
	writeFields(&sb, m.Fields)
	writeBlockAttrs(&sb, m.Attributes)
	sb.WriteString("}")
	return sb.String()
}

// Enum renders a single enum block.
func Enum(e *ast.Enum) string {
	var sb strings.Builder
	writeDoc(&sb, e.Doc, "")
	sb.WriteString("enum ")
	sb.WriteString(e.Ident.Name)
	sb.WriteString(" {\n")
	for _, v := range e.Variants {
		writeDoc(&sb, v.Doc, "  ")
		sb.WriteString("  ")
		sb.WriteString(v.Ident.Name)
		if v.Mapped != "" {
			sb.WriteString(" @map(")
			sb.WriteString(strconv.Quote(v.Mapped))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}")
	return sb.String()
}

// CompositeType renders a single composite type block.
func CompositeType(t *ast.CompositeType) string {
	var sb strings.Builder
	writeDoc(&sb, t.Doc, "")
	sb.WriteString("type ")
	sb.WriteString(t.Ident.Name)
	sb.WriteString(" {\n")
	writeFields(&sb, t.Fields)
	sb.WriteString("}")
	return sb.String()
}

// View renders a single view block. The raw body round-trips through
// the @@sql attribute.
func View(v *ast.View) string {
	var sb strings.Builder
	writeDoc(&sb, v.Doc, "")
	sb.WriteString("view ")
	sb.WriteString(v.Ident.Name)
	sb.WriteString(" {\n")
	writeFields(&sb, v.Fields)
	if v.SQL != "" {
		sb.WriteString("  @@sql(")
		sb.WriteString(strconv.Quote(v.SQL))
		sb.WriteString(")\n")
	}
	sb.WriteString("}")
	return sb.String()
}

func writeFields(sb *strings.Builder, fields []*ast.Field) {
	for _, f := range fields {
		writeDoc(sb, f.Doc, "  ")
		sb.WriteString("  ")
		sb.WriteString(f.Ident.Name)
		sb.WriteString(" ")
		sb.WriteString(f.Type.String())
		sb.WriteString(f.Modifier.String())
		for _, a := range f.Attributes {
			sb.WriteString(" ")
			sb.WriteString(a.String())
		}
		sb.WriteString("\n")
	}
}

func writeBlockAttrs(sb *strings.Builder, attrs []*ast.Attribute) {
	for _, a := range attrs {
		sb.WriteString("  ")
		sb.WriteString(a.String())
		sb.WriteString("\n")
	}
}

func writeDoc(sb *strings.Builder, doc, indent string) {
	if doc == "" {
		return
	}
	for _, line := range strings.Split(doc, "\n") {
		sb.WriteString(indent)
		sb.WriteString("/// ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}

package schema

import (
	"strconv"
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/lode-orm/lode/schema/ast"
)

var columnScalars = map[ColumnType]ast.ScalarType{
	TypeInt:     ast.ScalarInt,
	TypeBigInt:  ast.ScalarBigInt,
	TypeFloat:   ast.ScalarFloat,
	TypeDecimal: ast.ScalarDecimal,
	TypeString:  ast.ScalarString,
	TypeBool:    ast.ScalarBoolean,
	TypeTime:    ast.ScalarDateTime,
	TypeJSON:    ast.ScalarJSON,
	TypeBytes:   ast.ScalarBytes,
	TypeUUID:    ast.ScalarUUID,
}

// ToAST renders introspected database state back into a schema tree,
// the inverse of FromAST up to information the database keeps: enum
// types, tables with their columns, keys and indexes, foreign keys as
// relation fields with back-references, and views. Defaults with no
// schema-language spelling are dropped.
func ToAST(s *Schema) *ast.Schema {
	out := &ast.Schema{}
	for _, e := range s.Enums {
		out.Enums = append(out.Enums, pullEnum(e))
	}
	for _, t := range s.Tables {
		out.Models = append(out.Models, pullModel(s, t))
	}
	for _, m := range out.Models {
		t := s.Table(m.Ident.Name)
		for _, fk := range t.ForeignKeys {
			addRelation(out, m, fk)
		}
	}
	for _, v := range s.Views {
		out.Views = append(out.Views, &ast.View{
			Ident: ast.Ident{Name: v.Name},
			SQL:   v.Definition,
		})
	}
	return out
}

func pullEnum(e *Enum) *ast.Enum {
	out := &ast.Enum{Ident: ast.Ident{Name: e.Name}}
	for _, v := range e.Values {
		out.Variants = append(out.Variants, &ast.EnumVariant{
			Ident: ast.Ident{Name: v},
		})
	}
	return out
}

func pullModel(s *Schema, t *Table) *ast.Model {
	m := &ast.Model{Ident: ast.Ident{Name: t.Name}, Doc: t.Comment}
	for _, c := range t.Columns {
		m.Fields = append(m.Fields, pullField(t, c))
	}
	if len(t.PrimaryKey) > 1 {
		m.Attributes = append(m.Attributes, &ast.Attribute{
			Name:  ast.AttrID,
			Block: true,
			Args: []ast.AttributeArg{
				{Value: ast.FieldRefsValue(t.PrimaryKey...)},
			},
		})
	}
	for _, idx := range t.Indexes {
		if len(idx.Columns) == 1 && idx.Unique &&
			idx.Name == indexName(t.Name, idx.Columns, true) {
			continue // already carried as a field-level @unique
		}
		m.Attributes = append(m.Attributes, pullIndex(t, idx))
	}
	return m
}

func pullField(t *Table, c *Column) *ast.Field {
	f := &ast.Field{
		Ident:    ast.Ident{Name: c.Name},
		Modifier: ast.TypeModifier{Optional: c.Nullable},
		Doc:      c.Comment,
	}
	switch {
	case c.Type == TypeEnum:
		f.Type = ast.Named(c.EnumName)
	case c.Type == TypeUnknown:
		f.Type = ast.Unsupported(c.RawType)
	default:
		f.Type = ast.Scalar(columnScalars[c.Type])
	}
	if len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == c.Name {
		f.Attributes = append(f.Attributes, &ast.Attribute{Name: ast.AttrID})
	}
	if c.AutoIncrement || c.Default == "uuid()" {
		f.Attributes = append(f.Attributes, &ast.Attribute{Name: ast.AttrAuto})
	} else if v, ok := pullDefault(c); ok {
		f.Attributes = append(f.Attributes, &ast.Attribute{
			Name: ast.AttrDefault,
			Args: []ast.AttributeArg{{Value: v}},
		})
	}
	for _, idx := range t.Indexes {
		if len(idx.Columns) == 1 && idx.Columns[0] == c.Name && idx.Unique &&
			idx.Name == indexName(t.Name, idx.Columns, true) {
			f.Attributes = append(f.Attributes, &ast.Attribute{Name: ast.AttrUnique})
		}
	}
	return f
}

// pullDefault inverts the neutral default expressions FromAST emits.
// Database-specific expressions with no schema-language spelling
// report ok=false and are left out of the pulled schema.
func pullDefault(c *Column) (ast.AttributeValue, bool) {
	expr := strings.TrimSpace(c.Default)
	if expr == "" {
		return ast.AttributeValue{}, false
	}
	switch strings.ToUpper(expr) {
	case "NOW()", "CURRENT_TIMESTAMP":
		return ast.FunctionValue("now"), true
	case "TRUE":
		return ast.BoolValue(true), true
	case "FALSE":
		return ast.BoolValue(false), true
	}
	if i, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return ast.IntValue(i), true
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return ast.FloatValue(f), true
	}
	if strings.HasPrefix(expr, "'") && strings.HasSuffix(expr, "'") && len(expr) >= 2 {
		lit := strings.ReplaceAll(expr[1:len(expr)-1], "''", "'")
		if c.Type == TypeEnum {
			return ast.IdentValue(lit), true
		}
		return ast.StringValue(lit), true
	}
	return ast.AttributeValue{}, false
}

func pullIndex(t *Table, idx *Index) *ast.Attribute {
	name := ast.AttrIndex
	if idx.Unique {
		name = ast.AttrUnique
	}
	a := &ast.Attribute{
		Name:  name,
		Block: true,
		Args:  []ast.AttributeArg{{Value: ast.FieldRefsValue(idx.Columns...)}},
	}
	if idx.Name != indexName(t.Name, idx.Columns, idx.Unique) {
		a.Args = append(a.Args, ast.AttributeArg{
			Name: "name", Value: ast.StringValue(idx.Name),
		})
	}
	if idx.Type != "" {
		a.Args = append(a.Args, ast.AttributeArg{
			Name: "type", Value: ast.IdentValue(idx.Type),
		})
	}
	return a
}

// pullRefAction maps a SQL referential action back to its
// schema-language spelling.
func pullRefAction(action string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case string(ast.Cascade):
		return "Cascade", true
	case string(ast.Restrict):
		return "Restrict", true
	case string(ast.NoAction):
		return "NoAction", true
	case string(ast.SetNull):
		return "SetNull", true
	case string(ast.SetDefault):
		return "SetDefault", true
	}
	return "", false
}

// addRelation grows a relation field on the owning model and a list
// back-reference on the target, mirroring what the validator expects
// of hand-written schemas.
func addRelation(s *ast.Schema, m *ast.Model, fk *ForeignKey) {
	target, ok := s.Model(fk.RefTable)
	if !ok {
		return
	}
	relName := inflect.CamelizeDownFirst(fk.RefTable)
	if _, taken := m.Field(relName); taken {
		return
	}
	optional := true
	for _, col := range fk.Columns {
		if f, ok := m.Field(col); ok && !f.Modifier.Optional {
			optional = false
		}
	}
	rel := &ast.Field{
		Ident:    ast.Ident{Name: relName},
		Type:     ast.Named(fk.RefTable),
		Modifier: ast.TypeModifier{Optional: optional},
	}
	args := []ast.AttributeArg{
		{Name: "fields", Value: ast.FieldRefsValue(fk.Columns...)},
		{Name: "references", Value: ast.FieldRefsValue(fk.RefColumns...)},
	}
	if a, ok := pullRefAction(fk.OnDelete); ok {
		args = append(args, ast.AttributeArg{Name: "onDelete", Value: ast.IdentValue(a)})
	}
	if a, ok := pullRefAction(fk.OnUpdate); ok {
		args = append(args, ast.AttributeArg{Name: "onUpdate", Value: ast.IdentValue(a)})
	}
	rel.Attributes = append(rel.Attributes, &ast.Attribute{
		Name: ast.AttrRelation,
		Args: args,
	})
	m.Fields = append(m.Fields, rel)

	backName := inflect.CamelizeDownFirst(inflect.Pluralize(m.Ident.Name))
	if _, taken := target.Field(backName); taken {
		return
	}
	target.Fields = append(target.Fields, &ast.Field{
		Ident:    ast.Ident{Name: backName},
		Type:     ast.Named(m.Ident.Name),
		Modifier: ast.TypeModifier{List: true},
	})
}

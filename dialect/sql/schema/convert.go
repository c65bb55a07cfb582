package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lode-orm/lode/schema/ast"
)

var scalarColumns = map[ast.ScalarType]ColumnType{
	ast.ScalarInt:      TypeInt,
	ast.ScalarBigInt:   TypeBigInt,
	ast.ScalarFloat:    TypeFloat,
	ast.ScalarDecimal:  TypeDecimal,
	ast.ScalarString:   TypeString,
	ast.ScalarBoolean:  TypeBool,
	ast.ScalarDateTime: TypeTime,
	ast.ScalarDate:     TypeTime,
	ast.ScalarTime:     TypeTime,
	ast.ScalarJSON:     TypeJSON,
	ast.ScalarBytes:    TypeBytes,
	ast.ScalarUUID:     TypeUUID,
}

// FromAST realizes a validated schema tree as database state: models
// become tables, resolved relations become foreign keys and join
// tables, enums and views carry over. The input must have passed
// validation; unresolved type references make the conversion fail.
func FromAST(s *ast.Schema) (*Schema, error) {
	out := &Schema{}
	for _, e := range s.Enums {
		values := make([]string, len(e.Variants))
		for i, v := range e.Variants {
			values[i] = v.Value()
		}
		out.Enums = append(out.Enums, &Enum{Name: e.Name(), Values: values})
	}
	for _, m := range s.Models {
		t, err := tableOf(s, m)
		if err != nil {
			return nil, err
		}
		out.Tables = append(out.Tables, t)
	}
	if err := joinTables(s, out); err != nil {
		return nil, err
	}
	for _, v := range s.Views {
		out.Views = append(out.Views, &View{Name: v.Name(), Definition: v.SQL})
	}
	return out, nil
}

func tableOf(s *ast.Schema, m *ast.Model) (*Table, error) {
	t := &Table{Name: m.TableName(), Comment: strings.TrimSpace(m.Doc)}
	for _, f := range m.Fields {
		if f.Type.Kind == ast.KindModel {
			continue
		}
		c, err := columnOf(f)
		if err != nil {
			return nil, fmt.Errorf("lode/schema: model %s: %w", m.Name(), err)
		}
		t.Columns = append(t.Columns, c)
		if f.HasAttribute(ast.AttrUnique) {
			t.Indexes = append(t.Indexes, &Index{
				Name:    indexName(t.Name, []string{c.Name}, true),
				Columns: []string{c.Name},
				Unique:  true,
			})
		}
	}
	for _, f := range m.IDFields() {
		t.PrimaryKey = append(t.PrimaryKey, f.ColumnName())
	}
	if err := modelIndexes(m, t); err != nil {
		return nil, err
	}
	for _, r := range s.RelationsOf(m.Name()) {
		// The validator mirrors FK fields onto both sides; only the
		// side declaring @relation(fields: ...) carries the constraint.
		if len(r.FromFields) == 0 || !ownsForeignKey(m, r) {
			continue
		}
		fk, err := foreignKeyOf(s, m, r)
		if err != nil {
			return nil, err
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return t, nil
}

func columnOf(f *ast.Field) (*Column, error) {
	c := &Column{
		Name:     f.ColumnName(),
		Nullable: f.Modifier.Optional,
		Comment:  strings.TrimSpace(f.Doc),
	}
	switch f.Type.Kind {
	case ast.KindScalar:
		c.Type = scalarColumns[f.Type.Scalar]
	case ast.KindEnum:
		c.Type = TypeEnum
		c.EnumName = f.Type.Name
	case ast.KindComposite:
		// Composite values are stored as documents.
		c.Type = TypeJSON
	case ast.KindUnsupported:
		c.Type = TypeUnknown
		c.RawType = f.Type.Raw
	default:
		return nil, fmt.Errorf("field %s: unresolved type %s", f.Name(), f.Type)
	}
	if f.HasAttribute(ast.AttrAuto) {
		if c.Type == TypeUUID {
			c.Default = "uuid()"
		} else {
			c.AutoIncrement = true
		}
	}
	if a, ok := f.Attribute(ast.AttrDefault); ok {
		v, _ := a.Positional(0)
		expr, err := defaultExpr(v, c)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name(), err)
		}
		c.Default = expr
	}
	return c, nil
}

// defaultExpr renders a @default value as a neutral SQL expression.
// Dialect spellings (CURRENT_TIMESTAMP vs NOW(), enum literals) are
// resolved by the DDL generator.
func defaultExpr(v ast.AttributeValue, c *Column) (string, error) {
	switch v.Kind {
	case ast.ValueBool:
		if v.Bool {
			return "TRUE", nil
		}
		return "FALSE", nil
	case ast.ValueInt:
		return strconv.FormatInt(v.Int, 10), nil
	case ast.ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64), nil
	case ast.ValueString:
		return "'" + strings.ReplaceAll(v.Str, "'", "''") + "'", nil
	case ast.ValueIdent:
		// Enum variant reference.
		return "'" + v.Str + "'", nil
	case ast.ValueFunction:
		switch v.Fn {
		case "now":
			return "now()", nil
		case "uuid":
			return "uuid()", nil
		case "autoincrement":
			c.AutoIncrement = true
			return "", nil
		default:
			return "", fmt.Errorf("unsupported default function %s()", v.Fn)
		}
	default:
		return "", fmt.Errorf("unsupported default value %s", v)
	}
}

func modelIndexes(m *ast.Model, t *Table) error {
	for _, a := range m.Attributes {
		var unique bool
		switch a.Name {
		case ast.AttrUnique:
			unique = true
		case ast.AttrIndex:
		default:
			continue
		}
		refs, ok := a.FirstFieldRefs()
		if !ok {
			return fmt.Errorf("lode/schema: model %s: @@%s without fields", m.Name(), a.Name)
		}
		cols := make([]string, len(refs))
		for i, r := range refs {
			f, ok := m.Field(r)
			if !ok {
				return fmt.Errorf("lode/schema: model %s: @@%s references unknown field %s", m.Name(), a.Name, r)
			}
			cols[i] = f.ColumnName()
		}
		idx := &Index{Name: indexName(t.Name, cols, unique), Columns: cols, Unique: unique}
		if v, ok := a.Arg("type"); ok {
			idx.Type = v.Str
		}
		if v, ok := a.Arg("name"); ok {
			idx.Name = v.Str
		}
		t.Indexes = append(t.Indexes, idx)
	}
	return nil
}

func ownsForeignKey(m *ast.Model, r *ast.Relation) bool {
	f, ok := m.Field(r.FromField)
	if !ok {
		return false
	}
	a, ok := f.Attribute(ast.AttrRelation)
	if !ok {
		return false
	}
	_, ok = a.FieldRefs("fields")
	return ok
}

func foreignKeyOf(s *ast.Schema, m *ast.Model, r *ast.Relation) (*ForeignKey, error) {
	target, ok := s.Model(r.ToModel)
	if !ok {
		return nil, fmt.Errorf("lode/schema: relation %s: unknown model %s", r.Name, r.ToModel)
	}
	fk := &ForeignKey{
		Name:     fkName(m.TableName(), r.FromField),
		RefTable: target.TableName(),
		OnDelete: string(r.OnDelete),
		OnUpdate: string(r.OnUpdate),
	}
	for _, name := range r.FromFields {
		f, ok := m.Field(name)
		if !ok {
			return nil, fmt.Errorf("lode/schema: relation %s: unknown field %s.%s", r.Name, m.Name(), name)
		}
		fk.Columns = append(fk.Columns, f.ColumnName())
	}
	for _, name := range r.ToFields {
		f, ok := target.Field(name)
		if !ok {
			return nil, fmt.Errorf("lode/schema: relation %s: unknown field %s.%s", r.Name, target.Name(), name)
		}
		fk.RefColumns = append(fk.RefColumns, f.ColumnName())
	}
	return fk, nil
}

// joinTables materializes implicit many-to-many relations as two-column
// join tables, one per relation name.
func joinTables(s *ast.Schema, out *Schema) error {
	seen := map[string]bool{}
	var names []string
	rels := map[string]*ast.Relation{}
	for _, r := range s.Relations {
		if r.Kind != ast.ManyToMany || seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		names = append(names, r.Name)
		rels[r.Name] = r
	}
	sort.Strings(names)
	for _, name := range names {
		r := rels[name]
		a, _ := s.Model(r.FromModel)
		b, _ := s.Model(r.ToModel)
		if a == nil || b == nil {
			return fmt.Errorf("lode/schema: relation %s: unresolved endpoints", name)
		}
		// Column A references the alphabetically first model so both
		// sides derive the same table.
		if a.Name() > b.Name() {
			a, b = b, a
		}
		ta, tb := joinSide(a), joinSide(b)
		if ta == nil || tb == nil {
			return fmt.Errorf("lode/schema: relation %s: endpoints need single-column primary keys", name)
		}
		table := &Table{
			Name:    "_" + name,
			Columns: []*Column{ta.col("A"), tb.col("B")},
			Indexes: []*Index{
				{Name: "_" + name + "_AB_unique", Columns: []string{"A", "B"}, Unique: true},
				{Name: "_" + name + "_B_index", Columns: []string{"B"}},
			},
			ForeignKeys: []*ForeignKey{
				{Name: "_" + name + "_A_fkey", Columns: []string{"A"}, RefTable: a.TableName(), RefColumns: []string{ta.pk}, OnDelete: string(ast.Cascade)},
				{Name: "_" + name + "_B_fkey", Columns: []string{"B"}, RefTable: b.TableName(), RefColumns: []string{tb.pk}, OnDelete: string(ast.Cascade)},
			},
		}
		out.Tables = append(out.Tables, table)
	}
	return nil
}

type joinEnd struct {
	pk string
	ct ColumnType
}

func joinSide(m *ast.Model) *joinEnd {
	ids := m.IDFields()
	if len(ids) != 1 {
		return nil
	}
	f := ids[0]
	if f.Type.Kind != ast.KindScalar {
		return nil
	}
	return &joinEnd{pk: f.ColumnName(), ct: scalarColumns[f.Type.Scalar]}
}

func (e *joinEnd) col(name string) *Column {
	return &Column{Name: name, Type: e.ct}
}

func indexName(table string, cols []string, unique bool) string {
	suffix := "_idx"
	if unique {
		suffix = "_key"
	}
	return table + "_" + strings.Join(cols, "_") + suffix
}

func fkName(table, field string) string {
	return table + "_" + field + "_fkey"
}

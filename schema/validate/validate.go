// Package validate performs the semantic checks that turn a parsed
// schema into a resolved one: duplicate detection, type-reference
// resolution, attribute compatibility, relation matching and primary
// key presence. All passes run to completion even when earlier passes
// recorded errors, so users see the whole batch at once.
package validate

import (
	"fmt"
	"sort"

	"github.com/lode-orm/lode/schema/ast"
)

// Schema validates s and returns a new schema with field types resolved
// and relations populated. The input is not modified. The returned
// error, when non-nil, is an *ErrorList carrying every recorded error.
func Schema(s *ast.Schema) (*ast.Schema, error) {
	v := &validator{in: s, out: cloneSchema(s)}
	v.collectNames()
	v.resolveTypes()
	v.checkAttributes()
	v.resolveRelations()
	v.checkPrimaryKeys()
	if len(v.errs) > 0 {
		return v.out, &ErrorList{Errors: v.errs}
	}
	return v.out, nil
}

type validator struct {
	in   *ast.Schema
	out  *ast.Schema
	errs []error

	enums      map[string]bool
	models     map[string]bool
	composites map[string]bool
	views      map[string]bool
}

func (v *validator) errorf(err error) { v.errs = append(v.errs, err) }

// collectNames is pass 1: top-level name uniqueness per kind.
func (v *validator) collectNames() {
	v.enums = make(map[string]bool, len(v.out.Enums))
	v.models = make(map[string]bool, len(v.out.Models))
	v.composites = make(map[string]bool, len(v.out.Types))
	v.views = make(map[string]bool, len(v.out.Views))
	for _, e := range v.out.Enums {
		if v.enums[e.Ident.Name] {
			v.errorf(&DuplicateError{Kind: "enum", Name: e.Ident.Name})
		}
		v.enums[e.Ident.Name] = true
	}
	for _, m := range v.out.Models {
		if v.models[m.Ident.Name] {
			v.errorf(&DuplicateError{Kind: "model", Name: m.Ident.Name})
		}
		v.models[m.Ident.Name] = true
	}
	for _, t := range v.out.Types {
		if v.composites[t.Ident.Name] {
			v.errorf(&DuplicateError{Kind: "type", Name: t.Ident.Name})
		}
		v.composites[t.Ident.Name] = true
	}
	for _, w := range v.out.Views {
		if v.views[w.Ident.Name] {
			v.errorf(&DuplicateError{Kind: "view", Name: w.Ident.Name})
		}
		v.views[w.Ident.Name] = true
	}
}

// resolveTypes is pass 2: rewrite KindNamed references to the resolved
// kind or record UnknownType.
func (v *validator) resolveTypes() {
	resolve := func(owner string, f *ast.Field) {
		if f.Type.Kind != ast.KindNamed {
			return
		}
		name := f.Type.Name
		switch {
		case v.enums[name]:
			f.Type.Kind = ast.KindEnum
		case v.models[name], v.views[name]:
			f.Type.Kind = ast.KindModel
		case v.composites[name]:
			f.Type.Kind = ast.KindComposite
		default:
			v.errorf(&UnknownTypeError{Model: owner, Field: f.Ident.Name, TypeName: name})
			f.Type.Kind = ast.KindUnsupported
			f.Type.Raw = name
		}
	}
	for _, m := range v.out.Models {
		for _, f := range m.Fields {
			resolve(m.Ident.Name, f)
		}
	}
	for _, t := range v.out.Types {
		for _, f := range t.Fields {
			resolve(t.Ident.Name, f)
			if f.Type.Kind == ast.KindModel {
				v.errorf(&AttributeError{
					Model: t.Ident.Name, Field: f.Ident.Name,
					Attribute: "relation", Reason: "composite types cannot reference models",
				})
			}
		}
	}
	for _, w := range v.out.Views {
		for _, f := range w.Fields {
			resolve(w.Ident.Name, f)
		}
	}
}

// checkAttributes is pass 3: attribute compatibility per field.
func (v *validator) checkAttributes() {
	for _, m := range v.out.Models {
		for _, f := range m.Fields {
			v.checkFieldAttrs(m, f)
		}
	}
	for _, t := range v.out.Types {
		for _, f := range t.Fields {
			if f.HasAttribute(ast.AttrID) {
				v.errorf(&AttributeError{
					Model: t.Ident.Name, Field: f.Ident.Name,
					Attribute: ast.AttrID, Reason: "is not allowed on composite type fields",
				})
			}
		}
	}
}

func (v *validator) checkFieldAttrs(m *ast.Model, f *ast.Field) {
	scalar := f.Type.Kind == ast.KindScalar
	for _, a := range f.Attributes {
		switch a.Name {
		case ast.AttrID:
			if !scalar || f.Modifier.List {
				v.errorf(&AttributeError{
					Model: m.Ident.Name, Field: f.Ident.Name,
					Attribute: a.Name, Reason: "is only allowed on non-list scalar fields",
				})
			}
		case ast.AttrAuto:
			if !scalar || !autoCapable(f.Type.Scalar) {
				v.errorf(&AttributeError{
					Model: m.Ident.Name, Field: f.Ident.Name,
					Attribute: a.Name, Reason: "is only allowed on Int, BigInt or Uuid fields",
				})
			}
		case ast.AttrUpdatedAt:
			if !scalar || f.Type.Scalar != ast.ScalarDateTime {
				v.errorf(&AttributeError{
					Model: m.Ident.Name, Field: f.Ident.Name,
					Attribute: a.Name, Reason: "is only allowed on DateTime fields",
				})
			}
		case ast.AttrDefault:
			v.checkDefault(m, f, a)
		case ast.AttrRelation:
			v.checkRelationAttr(m, f, a)
		}
	}
}

func autoCapable(s ast.ScalarType) bool {
	return s == ast.ScalarInt || s == ast.ScalarBigInt || s == ast.ScalarUUID
}

// checkDefault verifies the @default value kind matches the field's
// scalar type. Function defaults (now, uuid, auto) are checked by name.
func (v *validator) checkDefault(m *ast.Model, f *ast.Field, a *ast.Attribute) {
	val, ok := a.Positional(0)
	if !ok {
		v.errorf(&AttributeError{
			Model: m.Ident.Name, Field: f.Ident.Name,
			Attribute: a.Name, Reason: "requires a value",
		})
		return
	}
	if f.Type.Kind == ast.KindEnum {
		if val.Kind != ast.ValueIdent {
			v.errorf(&AttributeError{
				Model: m.Ident.Name, Field: f.Ident.Name,
				Attribute: a.Name, Reason: "enum default must be a variant name",
			})
		}
		return
	}
	if f.Type.Kind != ast.KindScalar {
		return
	}
	mismatch := func() {
		v.errorf(&AttributeError{
			Model: m.Ident.Name, Field: f.Ident.Name,
			Attribute: a.Name,
			Reason:    fmt.Sprintf("value %s does not match field type %s", val.String(), f.Type),
		})
	}
	switch val.Kind {
	case ast.ValueNull:
		if !f.Modifier.Optional {
			mismatch()
		}
	case ast.ValueInt:
		if f.Type.Scalar != ast.ScalarInt && f.Type.Scalar != ast.ScalarBigInt &&
			f.Type.Scalar != ast.ScalarFloat && f.Type.Scalar != ast.ScalarDecimal {
			mismatch()
		}
	case ast.ValueFloat:
		if f.Type.Scalar != ast.ScalarFloat && f.Type.Scalar != ast.ScalarDecimal {
			mismatch()
		}
	case ast.ValueBool:
		if f.Type.Scalar != ast.ScalarBoolean {
			mismatch()
		}
	case ast.ValueString:
		if f.Type.Scalar != ast.ScalarString && f.Type.Scalar != ast.ScalarUUID &&
			f.Type.Scalar != ast.ScalarJSON {
			mismatch()
		}
	case ast.ValueFunction:
		switch val.Fn {
		case "now":
			if f.Type.Scalar != ast.ScalarDateTime && f.Type.Scalar != ast.ScalarDate &&
				f.Type.Scalar != ast.ScalarTime {
				mismatch()
			}
		case "uuid":
			if f.Type.Scalar != ast.ScalarUUID && f.Type.Scalar != ast.ScalarString {
				mismatch()
			}
		case "autoincrement":
			if f.Type.Scalar != ast.ScalarInt && f.Type.Scalar != ast.ScalarBigInt {
				mismatch()
			}
		default:
			// Unknown functions pass through to the database.
		}
	}
}

// checkRelationAttr verifies fields/references arities and existence.
func (v *validator) checkRelationAttr(m *ast.Model, f *ast.Field, a *ast.Attribute) {
	fields, hasFields := a.FieldRefs("fields")
	refs, hasRefs := a.FieldRefs("references")
	if hasFields != hasRefs {
		v.errorf(&RelationError{
			Model: m.Ident.Name, Field: f.Ident.Name,
			Reason: "fields and references must be given together",
		})
		return
	}
	if !hasFields {
		return
	}
	if len(fields) != len(refs) {
		v.errorf(&RelationError{
			Model: m.Ident.Name, Field: f.Ident.Name,
			Reason: fmt.Sprintf("fields and references arities differ (%d vs %d)", len(fields), len(refs)),
		})
	}
	for _, name := range fields {
		if _, ok := m.Field(name); !ok {
			v.errorf(&RelationError{
				Model: m.Ident.Name, Field: f.Ident.Name,
				Reason: fmt.Sprintf("local field %q does not exist", name),
			})
		}
	}
	if target, ok := v.out.Model(f.Type.Name); ok {
		for _, name := range refs {
			if _, ok := target.Field(name); !ok {
				v.errorf(&RelationError{
					Model: m.Ident.Name, Field: f.Ident.Name,
					Reason: fmt.Sprintf("referenced field %q does not exist on %s", name, f.Type.Name),
				})
			}
		}
	}
}

// resolveRelations is pass 4: match back-references and classify kinds.
func (v *validator) resolveRelations() {
	for _, m := range v.out.Models {
		for _, f := range m.Fields {
			if f.Type.Kind != ast.KindModel {
				continue
			}
			target, ok := v.out.Model(f.Type.Name)
			if !ok {
				// Views are queried like models but carry no relations.
				continue
			}
			v.resolveRelation(m, f, target)
		}
	}
	// Deterministic order regardless of map-free traversal changes.
	sort.SliceStable(v.out.Relations, func(i, j int) bool {
		a, b := v.out.Relations[i], v.out.Relations[j]
		if a.FromModel != b.FromModel {
			return a.FromModel < b.FromModel
		}
		return a.FromField < b.FromField
	})
}

func relationName(a *ast.Attribute) string {
	if a == nil {
		return ""
	}
	if s, ok := a.FirstString(); ok {
		return s
	}
	if nv, ok := a.Arg("name"); ok && nv.Kind == ast.ValueString {
		return nv.Str
	}
	return ""
}

func refAction(a *ast.Attribute, arg string) ast.RefAction {
	if a == nil {
		return ""
	}
	val, ok := a.Arg(arg)
	if !ok || val.Kind != ast.ValueIdent {
		return ""
	}
	switch val.Str {
	case "Cascade":
		return ast.Cascade
	case "Restrict":
		return ast.Restrict
	case "NoAction":
		return ast.NoAction
	case "SetNull":
		return ast.SetNull
	case "SetDefault":
		return ast.SetDefault
	}
	return ""
}

// defaultRelationName is the inferred name shared by both sides when
// none is given: the two model names joined in ascending order.
func defaultRelationName(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "To" + b
}

func (v *validator) resolveRelation(m *ast.Model, f *ast.Field, target *ast.Model) {
	attr, _ := f.Attribute(ast.AttrRelation)
	name := relationName(attr)

	// Candidate back-references: fields on the target typed as m whose
	// relation name agrees with ours.
	var backs []*ast.Field
	for _, tf := range target.Fields {
		if tf.Type.Kind != ast.KindModel || tf.Type.Name != m.Ident.Name {
			continue
		}
		if target == m && tf == f {
			// Self-relation: a field is not its own back-reference.
			continue
		}
		battr, _ := tf.Attribute(ast.AttrRelation)
		if relationName(battr) == name {
			backs = append(backs, tf)
		}
	}
	if len(backs) > 1 {
		v.errorf(&RelationError{
			Model: m.Ident.Name, Field: f.Ident.Name,
			Reason: fmt.Sprintf("ambiguous relation to %s: %d matching back-references; use distinct relation names", target.Ident.Name, len(backs)),
		})
		return
	}

	var back *ast.Field
	if len(backs) == 1 {
		back = backs[0]
	} else if !f.Modifier.Optional && !f.Modifier.List {
		v.errorf(&RelationError{
			Model: m.Ident.Name, Field: f.Ident.Name,
			Reason: fmt.Sprintf("required relation to %s has no back-reference field", target.Ident.Name),
		})
		return
	}

	rel := &ast.Relation{
		Name:      name,
		FromModel: m.Ident.Name,
		FromField: f.Ident.Name,
		ToModel:   target.Ident.Name,
		OnDelete:  refAction(attr, "onDelete"),
		OnUpdate:  refAction(attr, "onUpdate"),
	}
	if rel.Name == "" {
		rel.Name = defaultRelationName(m.Ident.Name, target.Ident.Name)
	}
	if back != nil {
		rel.ToField = back.Ident.Name
	}

	backList := back != nil && back.Modifier.List
	switch {
	case f.Modifier.List && backList:
		rel.Kind = ast.ManyToMany
	case f.Modifier.List:
		rel.Kind = ast.OneToMany
	case backList:
		rel.Kind = ast.ManyToOne
	default:
		rel.Kind = ast.OneToOne
	}

	// FK columns: taken from this side's @relation when present,
	// otherwise mirrored from the back-reference.
	if fields, ok := attrFieldRefs(attr); ok {
		rel.FromFields = fields.fields
		rel.ToFields = fields.refs
	} else if back != nil {
		battr, _ := back.Attribute(ast.AttrRelation)
		if fields, ok := attrFieldRefs(battr); ok {
			rel.FromFields = fields.refs
			rel.ToFields = fields.fields
		}
	}
	if rel.Kind == ast.ManyToMany && len(rel.FromFields) > 0 {
		v.errorf(&RelationError{
			Model: m.Ident.Name, Field: f.Ident.Name,
			Reason: "implicit many-to-many relations cannot declare fields/references",
		})
		return
	}

	v.out.Relations = append(v.out.Relations, rel)
}

type fkRefs struct {
	fields []string
	refs   []string
}

func attrFieldRefs(a *ast.Attribute) (fkRefs, bool) {
	if a == nil {
		return fkRefs{}, false
	}
	fields, ok1 := a.FieldRefs("fields")
	refs, ok2 := a.FieldRefs("references")
	if !ok1 || !ok2 {
		return fkRefs{}, false
	}
	return fkRefs{fields: fields, refs: refs}, true
}

// checkPrimaryKeys is pass 5: every model has exactly one primary key
// source.
func (v *validator) checkPrimaryKeys() {
	for _, m := range v.out.Models {
		idFields := 0
		for _, f := range m.Fields {
			if f.HasAttribute(ast.AttrID) {
				idFields++
			}
		}
		_, hasBlockID := m.Attribute(ast.AttrID)
		switch {
		case idFields == 0 && !hasBlockID:
			v.errorf(&MissingIDError{Model: m.Ident.Name})
		case idFields > 1:
			v.errorf(&AttributeError{
				Model: m.Ident.Name, Field: "",
				Attribute: ast.AttrID, Reason: "declared on multiple fields; use @@id for composite keys",
			})
		case idFields == 1 && hasBlockID:
			v.errorf(&AttributeError{
				Model: m.Ident.Name, Field: "",
				Attribute: ast.AttrID, Reason: "cannot combine field-level @id with @@id",
			})
		}
	}
}

// cloneSchema deep-copies the parts the validator rewrites (field
// types); attributes are shared because validation never mutates them.
func cloneSchema(s *ast.Schema) *ast.Schema {
	out := &ast.Schema{
		Enums: s.Enums,
		Raw:   s.Raw,
	}
	out.Models = make([]*ast.Model, len(s.Models))
	for i, m := range s.Models {
		cm := *m
		cm.Fields = cloneFields(m.Fields)
		out.Models[i] = &cm
	}
	out.Types = make([]*ast.CompositeType, len(s.Types))
	for i, t := range s.Types {
		ct := *t
		ct.Fields = cloneFields(t.Fields)
		out.Types[i] = &ct
	}
	out.Views = make([]*ast.View, len(s.Views))
	for i, w := range s.Views {
		cw := *w
		cw.Fields = cloneFields(w.Fields)
		out.Views[i] = &cw
	}
	return out
}

func cloneFields(fields []*ast.Field) []*ast.Field {
	out := make([]*ast.Field, len(fields))
	for i, f := range fields {
		cf := *f
		out[i] = &cf
	}
	return out
}

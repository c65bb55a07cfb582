package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lode-orm/lode/schema/ast"
	"github.com/lode-orm/lode/schema/validate"
)

func TestToASTRoundTrip(t *testing.T) {
	t.Parallel()
	rel := mustConvert(t, `
enum Role {
  ADMIN
  USER
}

model User {
  id        Uuid     @id @auto
  email     String   @unique
  name      String?
  role      Role     @default(USER)
  active    Boolean  @default(true)
  createdAt DateTime @default(now())
  posts     Post[]
}

model Post {
  id       Int    @id @auto
  title    String
  authorId Uuid
  author   User   @relation(fields: [authorId], references: [id])
}
`)
	pulled := ToAST(rel)

	// The pulled tree must survive re-validation.
	validated, err := validate.Schema(pulled)
	require.NoError(t, err)

	user, ok := validated.Model("User")
	require.True(t, ok)
	id, ok := user.Field("id")
	require.True(t, ok)
	assert.True(t, id.HasAttribute(ast.AttrID))
	assert.True(t, id.HasAttribute(ast.AttrAuto))
	assert.Equal(t, ast.ScalarUUID, id.Type.Scalar)

	email, ok := user.Field("email")
	require.True(t, ok)
	assert.True(t, email.HasAttribute(ast.AttrUnique))

	name, ok := user.Field("name")
	require.True(t, ok)
	assert.True(t, name.Modifier.Optional)

	role, ok := user.Field("role")
	require.True(t, ok)
	assert.Equal(t, ast.KindEnum, role.Type.Kind)
	def, ok := role.Attribute(ast.AttrDefault)
	require.True(t, ok)
	v, _ := def.Positional(0)
	assert.Equal(t, "USER", v.Str)

	active, ok := user.Field("active")
	require.True(t, ok)
	def, ok = active.Attribute(ast.AttrDefault)
	require.True(t, ok)
	v, _ = def.Positional(0)
	assert.Equal(t, ast.ValueBool, v.Kind)
	assert.True(t, v.Bool)

	created, ok := user.Field("createdAt")
	require.True(t, ok)
	def, ok = created.Attribute(ast.AttrDefault)
	require.True(t, ok)
	v, _ = def.Positional(0)
	assert.Equal(t, ast.ValueFunction, v.Kind)
	assert.Equal(t, "now", v.Fn)

	enum, ok := validated.Enum("Role")
	require.True(t, ok)
	require.Len(t, enum.Variants, 2)
	assert.Equal(t, "ADMIN", enum.Variants[0].Ident.Name)
}

func TestToASTRelations(t *testing.T) {
	t.Parallel()
	rel := mustConvert(t, `
model User {
  id    Int    @id @auto
  posts Post[]
}

model Post {
  id       Int  @id @auto
  authorId Int
  author   User @relation(fields: [authorId], references: [id], onDelete: Cascade)
}
`)
	pulled := ToAST(rel)

	post := findModel(t, pulled, "Post")
	author, ok := post.Field("user")
	require.True(t, ok, "relation field named after the referenced table")
	assert.Equal(t, "User", author.Type.Name)
	assert.False(t, author.Modifier.Optional)

	relAttr, ok := author.Attribute(ast.AttrRelation)
	require.True(t, ok)
	fields, ok := relAttr.FieldRefs("fields")
	require.True(t, ok)
	assert.Equal(t, []string{"authorId"}, fields)
	refs, ok := relAttr.FieldRefs("references")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, refs)
	onDelete, ok := relAttr.Arg("onDelete")
	require.True(t, ok)
	assert.Equal(t, "Cascade", onDelete.Str)

	user := findModel(t, pulled, "User")
	back, ok := user.Field("posts")
	require.True(t, ok, "back-reference list on the referenced model")
	assert.True(t, back.Modifier.List)
	assert.Equal(t, "Post", back.Type.Name)
}

func TestToASTCompositeKeyAndIndexes(t *testing.T) {
	t.Parallel()
	rel := mustConvert(t, `
model Membership {
  userId Int
  teamId Int
  rank   Int

  @@id([userId, teamId])
  @@index([rank])
}
`)
	pulled := ToAST(rel)

	m := findModel(t, pulled, "Membership")
	idAttr, ok := m.Attribute(ast.AttrID)
	require.True(t, ok)
	cols, ok := idAttr.FirstFieldRefs()
	require.True(t, ok)
	assert.Equal(t, []string{"userId", "teamId"}, cols)

	idx, ok := m.Attribute(ast.AttrIndex)
	require.True(t, ok)
	cols, ok = idx.FirstFieldRefs()
	require.True(t, ok)
	assert.Equal(t, []string{"rank"}, cols)
}

func TestToASTUnknownType(t *testing.T) {
	t.Parallel()
	rel := &Schema{Tables: []*Table{{
		Name:       "Geo",
		PrimaryKey: []string{"id"},
		Columns: []*Column{
			{Name: "id", Type: TypeInt, AutoIncrement: true},
			{Name: "location", Type: TypeUnknown, RawType: "geography(Point,4326)", Nullable: true},
		},
	}}}
	pulled := ToAST(rel)

	m := findModel(t, pulled, "Geo")
	loc, ok := m.Field("location")
	require.True(t, ok)
	assert.Equal(t, ast.KindUnsupported, loc.Type.Kind)
	assert.Equal(t, "geography(Point,4326)", loc.Type.Raw)
	assert.True(t, loc.Modifier.Optional)
}

func TestToASTDropsOpaqueDefaults(t *testing.T) {
	t.Parallel()
	rel := &Schema{Tables: []*Table{{
		Name:       "Doc",
		PrimaryKey: []string{"id"},
		Columns: []*Column{
			{Name: "id", Type: TypeInt, AutoIncrement: true},
			{Name: "body", Type: TypeJSON, Default: "jsonb_build_object()"},
		},
	}}}
	pulled := ToAST(rel)

	body, ok := findModel(t, pulled, "Doc").Field("body")
	require.True(t, ok)
	assert.False(t, body.HasAttribute(ast.AttrDefault))
}

func findModel(t *testing.T, s *ast.Schema, name string) *ast.Model {
	t.Helper()
	m, ok := s.Model(name)
	require.True(t, ok, "model %s", name)
	return m
}

// Pulling the result of FromAST and converting again must be stable.
func TestPullConvertStable(t *testing.T) {
	t.Parallel()
	src := `
model User {
  id    Int     @id @auto
  email String  @unique
  bio   String?
}
`
	first := mustConvert(t, src)
	pulled := ToAST(first)
	validated, err := validate.Schema(pulled)
	require.NoError(t, err)
	second, err := FromAST(validated)
	require.NoError(t, err)

	d, err := DiffSchemas(first, second)
	require.NoError(t, err)
	assert.True(t, d.Empty(), "re-converted schema should not differ")
}

package gen

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lode-orm/lode/schema/ast"
	"github.com/lode-orm/lode/schema/parser"
	"github.com/lode-orm/lode/schema/validate"
)

const fixture = `
enum Role {
  ADMIN
  USER
}

model User {
  id        Uuid     @id @auto
  email     String   @unique
  name      String?
  age       Int?
  role      Role     @default(USER)
  active    Boolean  @default(true)
  createdAt DateTime @default(now())
  updatedAt DateTime @updatedAt
  posts     Post[]
  drafts    BlogPost[]
}

model BlogPost {
  id       Int    @id @auto
  title    String
  body     String?
  author   User   @relation(fields: [authorId], references: [id])
  authorId Uuid
}

model Post {
  id       Int    @id @auto
  author   User   @relation(fields: [authorId], references: [id])
  authorId Uuid
}
`

func mustSchema(t *testing.T, src string) *ast.Schema {
	t.Helper()
	parsed, err := parser.Parse([]byte(src))
	require.NoError(t, err)
	validated, err := validate.Schema(parsed)
	require.NoError(t, err)
	return validated
}

func renderAll(t *testing.T, src string) map[string]string {
	t.Helper()
	files, err := Render(mustSchema(t, src), Config{Package: "model"})
	require.NoError(t, err)
	out := make(map[string]string, len(files))
	for _, f := range files {
		var sb strings.Builder
		require.NoError(t, f.src.Render(&sb))
		out[f.Name] = sb.String()
	}
	return out
}

func TestRenderFileNames(t *testing.T) {
	t.Parallel()
	files := renderAll(t, fixture)
	assert.Contains(t, files, "enums.go")
	assert.Contains(t, files, "user.go")
	assert.Contains(t, files, "blog_post.go")
	assert.Contains(t, files, "post.go")
}

func TestRenderEntityStruct(t *testing.T) {
	t.Parallel()
	src := renderAll(t, fixture)["user.go"]
	assert.Contains(t, src, "type User struct {")
	assert.Contains(t, src, "ID string")
	assert.Contains(t, src, "Name *string")
	assert.Contains(t, src, "Age *int")
	assert.Contains(t, src, "Role Role")
	assert.Contains(t, src, "CreatedAt time.Time")
	// Relation fields are not columns and must not appear.
	assert.NotContains(t, src, "Posts")
}

func TestRenderColumnConstants(t *testing.T) {
	t.Parallel()
	src := renderAll(t, fixture)["user.go"]
	assert.Contains(t, src, `UserTable = "User"`)
	assert.Contains(t, src, `UserColumnID = "id"`)
	assert.Contains(t, src, `UserColumnCreatedAt = "createdAt"`)
	assert.Contains(t, src, "UserColumns = []string{")
}

func TestRenderTypedPredicates(t *testing.T) {
	t.Parallel()
	src := renderAll(t, fixture)["user.go"]
	assert.Contains(t, src, "UserEmail = sql.StringField(UserColumnEmail)")
	assert.Contains(t, src, "UserAge = sql.IntField(UserColumnAge)")
	assert.Contains(t, src, "UserActive = sql.BoolField(UserColumnActive)")
	assert.Contains(t, src, "UserCreatedAt = sql.TimeField(UserColumnCreatedAt)")
	// Enum columns compare as strings.
	assert.Contains(t, src, "UserRole = sql.StringField(UserColumnRole)")
}

func TestRenderMapper(t *testing.T) {
	t.Parallel()
	src := renderAll(t, fixture)["user.go"]
	assert.Contains(t, src, "func ScanUser(columns []string, scan func(dest ...any) error) (any, error)")
	assert.Contains(t, src, "case UserColumnEmail:")
	assert.Contains(t, src, "dest[i] = &m.Email")
	// Unknown columns are discarded, not an error.
	assert.Contains(t, src, "dest[i] = new(any)")
}

func TestRenderWriteHints(t *testing.T) {
	t.Parallel()
	src := renderAll(t, fixture)["user.go"]
	assert.Contains(t, src, "UserAutoUUID = []string{UserColumnID}")
	assert.Contains(t, src, "UserTouch = []string{UserColumnUpdatedAt}")

	// Int @auto is a database sequence, not an engine-side fill.
	post := renderAll(t, fixture)["post.go"]
	assert.NotContains(t, post, "PostAutoUUID")
}

func TestRenderEnums(t *testing.T) {
	t.Parallel()
	src := renderAll(t, fixture)["enums.go"]
	assert.Contains(t, src, "type Role string")
	assert.Contains(t, src, `RoleADMIN Role = "ADMIN"`)
	assert.Contains(t, src, `RoleUSER Role = "USER"`)
	assert.Contains(t, src, "func (e Role) Valid() bool")
}

func TestRenderForeignKeyColumn(t *testing.T) {
	t.Parallel()
	src := renderAll(t, fixture)["blog_post.go"]
	// The FK scalar stays a column even though the relation field is
	// dropped.
	assert.Contains(t, src, "AuthorID string")
	assert.Contains(t, src, `BlogPostColumnAuthorID = "authorId"`)
	assert.NotContains(t, src, "Author User")
}

func TestGenerateWritesFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	err := Generate(context.Background(), mustSchema(t, fixture), Config{
		Package: "model",
		Target:  dir,
	})
	require.NoError(t, err)

	for _, name := range []string{"enums.go", "user.go", "blog_post.go", "post.go"} {
		src, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(src), "package model")
		assert.Contains(t, string(src), "Code generated by lode, DO NOT EDIT.")
	}
}

func TestExportName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"id":         "ID",
		"authorId":   "AuthorID",
		"createdAt":  "CreatedAt",
		"avatarUrl":  "AvatarURL",
		"blog_post":  "BlogPost",
		"apiKey":     "APIKey",
		"jsonConfig": "JSONConfig",
	}
	for in, want := range cases {
		assert.Equal(t, want, exportName(in), in)
	}
}

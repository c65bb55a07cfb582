package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableUnderOrder(t *testing.T) {
	t.Parallel()
	a := &Schema{Tables: []*Table{
		{
			Name: "User",
			Columns: []*Column{
				{Name: "id", Type: TypeInt},
				{Name: "email", Type: TypeString},
			},
		},
		{Name: "Post", Columns: []*Column{{Name: "id", Type: TypeInt}}},
	}}
	// Same schema with tables and columns listed in a different order,
	// as a live introspection might return them.
	b := &Schema{Tables: []*Table{
		{Name: "Post", Columns: []*Column{{Name: "id", Type: TypeInt}}},
		{
			Name: "User",
			Columns: []*Column{
				{Name: "email", Type: TypeString},
				{Name: "id", Type: TypeInt},
			},
		},
	}}

	fa, err := FingerprintSchema(a)
	require.NoError(t, err)
	fb, err := FingerprintSchema(b)
	require.NoError(t, err)
	assert.Equal(t, fa.Root, fb.Root)
	assert.Equal(t, fa.Tables["User"], fb.Tables["User"])
}

func TestFingerprintEmptySchema(t *testing.T) {
	t.Parallel()
	fp, err := FingerprintSchema(&Schema{})
	require.NoError(t, err)
	assert.NotEmpty(t, fp.Root)
	assert.Empty(t, fp.Tables)
}

func TestDetectDriftInSync(t *testing.T) {
	t.Parallel()
	s := &Schema{Tables: []*Table{userTable()}}
	report, err := DetectDrift(s, s)
	require.NoError(t, err)
	assert.True(t, report.InSync)
	assert.Empty(t, report.Changed)
}

func TestDetectDriftLocalizesTables(t *testing.T) {
	t.Parallel()
	expected := &Schema{Tables: []*Table{
		userTable(),
		{Name: "Post", Columns: []*Column{{Name: "id", Type: TypeInt}}},
	}}
	actual := &Schema{Tables: []*Table{
		userTable(),
		{Name: "Post", Columns: []*Column{{Name: "id", Type: TypeBigInt}}},
		{Name: "Stray", Columns: []*Column{{Name: "id", Type: TypeInt}}},
	}}

	report, err := DetectDrift(expected, actual)
	require.NoError(t, err)
	assert.False(t, report.InSync)
	// Only the drifted and extra tables are named; User stays out.
	assert.Equal(t, []string{"Post", "Stray"}, report.Changed)
}

func TestHashTableSensitivity(t *testing.T) {
	t.Parallel()
	base := userTable()
	assert.Equal(t, hashTable(base), hashTable(userTable()))

	nullable := userTable()
	nullable.Column("email").Nullable = true
	assert.NotEqual(t, hashTable(base), hashTable(nullable))

	indexed := userTable()
	indexed.Indexes = append(indexed.Indexes, &Index{Name: "User_extra_idx", Columns: []string{"email"}})
	assert.NotEqual(t, hashTable(base), hashTable(indexed))
}

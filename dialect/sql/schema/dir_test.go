package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirWriteAndList(t *testing.T) {
	t.Parallel()
	dir := NewDir(t.TempDir())
	now := time.Date(2026, 8, 30, 12, 4, 5, 0, time.UTC)

	steps := []Step{
		{Up: `CREATE TABLE "User" ("id" serial NOT NULL);`, Down: `DROP TABLE "User";`},
		{Up: `CREATE UNIQUE INDEX "User_email_key" ON "User" ("email");`, Down: `DROP INDEX "User_email_key";`},
	}
	written, err := dir.Write("AddUser", steps, now)
	require.NoError(t, err)
	assert.Equal(t, "20260830120405_add_user", written.ID)
	assert.Equal(t, "add_user", written.Name)
	assert.True(t, written.HasDown())

	listed, err := dir.List()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	m := listed[0]
	assert.Equal(t, written.ID, m.ID)
	assert.Equal(t, written.Checksum, m.Checksum)
	assert.Contains(t, m.Up, "CREATE TABLE")

	// Down statements run in reverse step order.
	idxDrop := `DROP INDEX "User_email_key";`
	tblDrop := `DROP TABLE "User";`
	assert.Less(t, strings.Index(m.Down, idxDrop), strings.Index(m.Down, tblDrop))
}

func TestDirListOrder(t *testing.T) {
	t.Parallel()
	dir := NewDir(t.TempDir())
	_, err := dir.Write("second", []Step{{Up: "SELECT 2;"}}, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = dir.Write("first", []Step{{Up: "SELECT 1;"}}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	listed, err := dir.List()
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "first", listed[0].Name)
	assert.Equal(t, "second", listed[1].Name)
}

func TestDirMissingIsEmpty(t *testing.T) {
	t.Parallel()
	dir := NewDir(filepath.Join(t.TempDir(), "does-not-exist"))
	listed, err := dir.List()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestDirIgnoresStrayEntries(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("notes"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "not-a-migration"), 0o755))

	dir := NewDir(root)
	_, err := dir.Write("init", []Step{{Up: "SELECT 1;"}}, time.Now())
	require.NoError(t, err)

	listed, err := dir.List()
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestDirGet(t *testing.T) {
	t.Parallel()
	dir := NewDir(t.TempDir())
	written, err := dir.Write("init", []Step{{Up: "SELECT 1;"}}, time.Now())
	require.NoError(t, err)

	got, err := dir.Get(written.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, written.Checksum, got.Checksum)

	missing, err := dir.Get("20200101000000_nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDirSkipsEmptyDown(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := NewDir(root)
	written, err := dir.Write("no_down", []Step{{Up: "SELECT 1;"}}, time.Now())
	require.NoError(t, err)
	assert.False(t, written.HasDown())

	_, err = os.Stat(filepath.Join(root, written.ID, "down.sql"))
	assert.True(t, os.IsNotExist(err))
}

func TestChecksumStable(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Checksum("SELECT 1;"), Checksum("SELECT 1;"))
	assert.NotEqual(t, Checksum("SELECT 1;"), Checksum("SELECT 2;"))
	assert.Len(t, Checksum(""), 64)
}

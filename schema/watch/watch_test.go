package watch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const valid = `
model User {
  id    Int    @id @auto
  email String @unique
}
`

const broken = `
model User {
  id Int @id @auto
`

func writeSchema(t *testing.T, path, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
}

func newWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w, err := New(path,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithDebounce(10*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func nextEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event within deadline")
		return Event{}
	}
}

func TestInitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schema.lode")
	writeSchema(t, path, valid)

	w := newWatcher(t, path)
	ev := nextEvent(t, w)
	require.NoError(t, ev.Err)
	require.NotNil(t, ev.Schema)
	assert.Len(t, ev.Schema.Models, 1)
}

func TestReloadOnWrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schema.lode")
	writeSchema(t, path, valid)

	w := newWatcher(t, path)
	nextEvent(t, w)

	writeSchema(t, path, valid+`
model Post {
  id Int @id @auto
}
`)
	ev := nextEvent(t, w)
	require.NoError(t, ev.Err)
	assert.Len(t, ev.Schema.Models, 2)
}

func TestBrokenEditEmitsError(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schema.lode")
	writeSchema(t, path, valid)

	w := newWatcher(t, path)
	nextEvent(t, w)

	writeSchema(t, path, broken)
	ev := nextEvent(t, w)
	require.Error(t, ev.Err)
	assert.Nil(t, ev.Schema)
}

func TestIgnoresSiblingFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.lode")
	writeSchema(t, path, valid)

	w := newWatcher(t, path)
	nextEvent(t, w)

	writeSchema(t, filepath.Join(dir, "notes.txt"), "unrelated")
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for sibling file: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMissingFileRejected(t *testing.T) {
	t.Parallel()
	_, err := New(filepath.Join(t.TempDir(), "absent.lode"))
	require.Error(t, err)
}

func TestCloseEndsStream(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schema.lode")
	writeSchema(t, path, valid)

	w := newWatcher(t, path)
	nextEvent(t, w)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Close")
	}
}

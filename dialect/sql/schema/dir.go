package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-openapi/inflect"
)

// Migration is one on-disk migration: a directory named
// {YYYYMMDDHHMMSS}_{snake_name} holding up.sql and optionally
// down.sql.
type Migration struct {
	// ID is the directory name; its timestamp prefix makes
	// lexicographic order chronological.
	ID   string
	Name string
	Up   string
	Down string
	// Checksum is the stable hash of the up-SQL, used to detect
	// post-apply edits.
	Checksum string
}

// HasDown reports whether the migration can be rolled back.
func (m *Migration) HasDown() bool { return m.Down != "" }

var migrationIDRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)$`)

// Dir reads and writes the migrations directory.
type Dir struct {
	path string
}

// NewDir returns a Dir rooted at path. The directory is created on
// first write, not here.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Path returns the directory root.
func (d *Dir) Path() string { return d.path }

// Checksum returns the hex SHA-256 of a migration's up-SQL.
func Checksum(upSQL string) string {
	sum := sha256.Sum256([]byte(upSQL))
	return hex.EncodeToString(sum[:])
}

// List returns all migrations in lexicographic (chronological) order.
// A missing directory is an empty list, not an error.
func (d *Dir) List() ([]*Migration, error) {
	entries, err := os.ReadDir(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lode/schema: read migrations dir: %w", err)
	}
	var out []*Migration
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := migrationIDRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		up, err := os.ReadFile(filepath.Join(d.path, e.Name(), "up.sql"))
		if err != nil {
			return nil, fmt.Errorf("lode/schema: migration %s: %w", e.Name(), err)
		}
		down, err := os.ReadFile(filepath.Join(d.path, e.Name(), "down.sql"))
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("lode/schema: migration %s: %w", e.Name(), err)
		}
		out = append(out, &Migration{
			ID:       e.Name(),
			Name:     m[2],
			Up:       string(up),
			Down:     string(down),
			Checksum: Checksum(string(up)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the migration with the given id, or nil.
func (d *Dir) Get(id string) (*Migration, error) {
	all, err := d.List()
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

// Write persists a new migration from generated steps and returns it.
// The name is normalized to snake case; the id prefix is the current
// UTC time.
func (d *Dir) Write(name string, steps []Step, now time.Time) (*Migration, error) {
	id := fmt.Sprintf("%s_%s", now.UTC().Format("20060102150405"), inflect.Underscore(name))
	if !migrationIDRe.MatchString(id) {
		return nil, fmt.Errorf("lode/schema: invalid migration name %q", name)
	}
	var up, down strings.Builder
	for _, s := range steps {
		if s.Up == "" {
			continue
		}
		up.WriteString(s.Up)
		up.WriteString("\n")
	}
	// Down steps run in reverse so drops undo creates in order.
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Down == "" {
			continue
		}
		down.WriteString(steps[i].Down)
		down.WriteString("\n")
	}
	dir := filepath.Join(d.path, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lode/schema: create migration dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "up.sql"), []byte(up.String()), 0o644); err != nil {
		return nil, fmt.Errorf("lode/schema: write up.sql: %w", err)
	}
	if down.Len() > 0 {
		if err := os.WriteFile(filepath.Join(dir, "down.sql"), []byte(down.String()), 0o644); err != nil {
			return nil, fmt.Errorf("lode/schema: write down.sql: %w", err)
		}
	}
	return &Migration{
		ID:       id,
		Name:     inflect.Underscore(name),
		Up:       up.String(),
		Down:     down.String(),
		Checksum: Checksum(up.String()),
	}, nil
}

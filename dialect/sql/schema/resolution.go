package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ResolutionAction is a per-migration-id override applied during
// planning.
type ResolutionAction string

const (
	// AcceptChecksum tolerates a post-apply edit of the up-SQL.
	AcceptChecksum ResolutionAction = "accept-checksum"
	// SkipMigration removes the id from planning entirely.
	SkipMigration ResolutionAction = "skip"
	// BaselineMigration records the id as applied without executing
	// its SQL. Used when adopting an existing database.
	BaselineMigration ResolutionAction = "baseline"
	// RenameMigration maps an old id to a new one in history.
	RenameMigration ResolutionAction = "rename"
)

// Resolution is one override entry.
type Resolution struct {
	Action ResolutionAction `yaml:"action"`
	// RenameTo is the new id for RenameMigration.
	RenameTo string `yaml:"rename_to,omitempty"`
}

// Resolutions maps migration ids to overrides. The zero value is
// usable.
type Resolutions map[string]Resolution

// resolutionFile is the on-disk layout of resolutions.yaml.
type resolutionFile struct {
	Resolutions Resolutions `yaml:"resolutions"`
}

// LoadResolutions reads resolutions.yaml from the migrations
// directory. A missing file is an empty set.
func LoadResolutions(dir string) (Resolutions, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "resolutions.yaml"))
	if os.IsNotExist(err) {
		return Resolutions{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lode/schema: read resolutions: %w", err)
	}
	var f resolutionFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("lode/schema: parse resolutions: %w", err)
	}
	for id, r := range f.Resolutions {
		switch r.Action {
		case AcceptChecksum, SkipMigration, BaselineMigration:
		case RenameMigration:
			if r.RenameTo == "" {
				return nil, fmt.Errorf("lode/schema: resolution %s: rename without rename_to", id)
			}
		default:
			return nil, fmt.Errorf("lode/schema: resolution %s: unknown action %q", id, r.Action)
		}
	}
	if f.Resolutions == nil {
		return Resolutions{}, nil
	}
	return f.Resolutions, nil
}

// Save writes the resolution set to resolutions.yaml in dir.
func (r Resolutions) Save(dir string) error {
	raw, err := yaml.Marshal(resolutionFile{Resolutions: r})
	if err != nil {
		return fmt.Errorf("lode/schema: marshal resolutions: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "resolutions.yaml"), raw, 0o644)
}

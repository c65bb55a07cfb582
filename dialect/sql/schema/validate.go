package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError is one problem found in a schema state or plan.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking marks problems that make the state unusable rather
	// than merely suspicious.
	Breaking bool
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult accumulates errors and warnings of one validation
// run.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors reports whether any error was recorded.
func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// HasWarnings reports whether any warning was recorded.
func (r *ValidationResult) HasWarnings() bool { return len(r.Warnings) > 0 }

// String returns a human-readable summary.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  " + e.Error() + "\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  " + w.Error() + "\n")
		}
	}
	if sb.Len() == 0 {
		return "OK"
	}
	return sb.String()
}

func (r *ValidationResult) errorf(table, column, format string, args ...any) {
	r.Errors = append(r.Errors, &ValidationError{
		Table: table, Column: column, Message: fmt.Sprintf(format, args...), Breaking: true,
	})
}

func (r *ValidationResult) warnf(table, column, format string, args ...any) {
	r.Warnings = append(r.Warnings, &ValidationError{
		Table: table, Column: column, Message: fmt.Sprintf(format, args...),
	})
}

// ValidateSchema checks the internal consistency of a schema state:
// duplicate names, dangling foreign keys, index and primary-key
// columns that do not exist. Introspected and converted states both
// go through this before diffing.
func ValidateSchema(s *Schema) *ValidationResult {
	r := &ValidationResult{}
	seenTables := map[string]bool{}
	for _, t := range s.Tables {
		if seenTables[t.Name] {
			r.errorf(t.Name, "", "duplicate table name")
			continue
		}
		seenTables[t.Name] = true
		seenCols := map[string]bool{}
		for _, c := range t.Columns {
			if seenCols[c.Name] {
				r.errorf(t.Name, c.Name, "duplicate column name")
			}
			seenCols[c.Name] = true
			if c.Type == TypeEnum && c.EnumName != "" && s.Enum(c.EnumName) == nil {
				r.errorf(t.Name, c.Name, "references unknown enum %q", c.EnumName)
			}
			if c.Type == TypeUnknown && c.RawType == "" {
				r.warnf(t.Name, c.Name, "column has no usable type")
			}
		}
		for _, pk := range t.PrimaryKey {
			if !seenCols[pk] {
				r.errorf(t.Name, pk, "primary key references unknown column")
			}
		}
		for _, idx := range t.Indexes {
			for _, col := range idx.Columns {
				if !seenCols[col] {
					r.errorf(t.Name, col, "index %s references unknown column", idx.Name)
				}
			}
		}
		for _, fk := range t.ForeignKeys {
			target := s.Table(fk.RefTable)
			if target == nil {
				r.errorf(t.Name, "", "foreign key %s references unknown table %q", fk.Name, fk.RefTable)
				continue
			}
			for _, col := range fk.Columns {
				if !seenCols[col] {
					r.errorf(t.Name, col, "foreign key %s references unknown local column", fk.Name)
				}
			}
			for _, col := range fk.RefColumns {
				if target.Column(col) == nil {
					r.errorf(t.Name, "", "foreign key %s references unknown column %s.%s", fk.Name, fk.RefTable, col)
				}
			}
			if len(fk.Columns) != len(fk.RefColumns) {
				r.errorf(t.Name, "", "foreign key %s has mismatched column counts", fk.Name)
			}
		}
	}
	return r
}

// MigrationConflictError reports two unapplied migrations from
// divergent branches touching the same table.
type MigrationConflictError struct {
	Table string
	IDs   []string
}

func (e *MigrationConflictError) Error() string {
	return fmt.Sprintf("lode/schema: migrations %s both touch table %q; add a resolution to order them",
		strings.Join(e.IDs, " and "), e.Table)
}

var ddlTableRe = regexp.MustCompile(`(?i)\b(?:CREATE|ALTER|DROP)\s+TABLE\s+(?:IF\s+(?:NOT\s+)?EXISTS\s+)?["` + "`" + `]?([A-Za-z_][A-Za-z0-9_]*)`)

// touchedTables extracts the table names a migration's up-SQL
// modifies.
func touchedTables(upSQL string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range ddlTableRe.FindAllStringSubmatch(upSQL, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// ValidatePlan rejects plans where a migration that predates an
// already-applied id (a merge from another branch) touches a table
// another pending migration also touches. A resolution on either id
// accepts the ordering.
func ValidatePlan(p *Plan, res Resolutions) error {
	var maxApplied string
	for _, e := range p.Entries {
		if e.Disposition == AlreadyApplied && e.ID > maxApplied {
			maxApplied = e.ID
		}
	}
	byTable := map[string][]string{}
	for _, e := range p.Entries {
		if e.Disposition != ApplyPending || e.Migration == nil {
			continue
		}
		for _, table := range touchedTables(e.Migration.Up) {
			byTable[table] = append(byTable[table], e.ID)
		}
	}
	for table, ids := range byTable {
		if len(ids) < 2 {
			continue
		}
		branched := false
		for _, id := range ids {
			if maxApplied != "" && id < maxApplied {
				branched = true
			}
		}
		if !branched {
			continue
		}
		resolved := false
		for _, id := range ids {
			if _, ok := res[id]; ok {
				resolved = true
			}
		}
		if !resolved {
			return &MigrationConflictError{Table: table, IDs: ids}
		}
	}
	return nil
}

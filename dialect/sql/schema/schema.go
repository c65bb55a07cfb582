// Package schema implements database schema management: introspection
// of live databases, deterministic diffing, DDL generation with
// data-loss verdicts, and the versioned migration engine.
package schema

import "sort"

// ColumnType is a dialect-neutral column type. Dialect specifics are
// resolved at DDL generation time.
type ColumnType int

const (
	// TypeUnknown marks introspected types with no neutral mapping.
	// RawType carries the database's own spelling.
	TypeUnknown ColumnType = iota
	// TypeInt is a 32-bit integer.
	TypeInt
	// TypeBigInt is a 64-bit integer.
	TypeBigInt
	// TypeFloat is a double-precision float.
	TypeFloat
	// TypeDecimal is an exact numeric.
	TypeDecimal
	// TypeString is variable-length text.
	TypeString
	// TypeBool is a boolean.
	TypeBool
	// TypeTime is a timestamp.
	TypeTime
	// TypeJSON is a JSON document.
	TypeJSON
	// TypeBytes is a binary blob.
	TypeBytes
	// TypeUUID is a UUID.
	TypeUUID
	// TypeEnum is a value of a named enum type.
	TypeEnum
)

var typeNames = [...]string{
	TypeUnknown: "unknown",
	TypeInt:     "int",
	TypeBigInt:  "bigint",
	TypeFloat:   "float",
	TypeDecimal: "decimal",
	TypeString:  "string",
	TypeBool:    "bool",
	TypeTime:    "time",
	TypeJSON:    "json",
	TypeBytes:   "bytes",
	TypeUUID:    "uuid",
	TypeEnum:    "enum",
}

func (t ColumnType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// Column is a table column in its database form.
type Column struct {
	Name string
	Type ColumnType
	// RawType is the database's own type spelling; set by
	// introspection and for TypeUnknown columns.
	RawType string
	// EnumName names the enum type when Type is TypeEnum.
	EnumName string
	Nullable bool
	// Default is a SQL default expression; empty means no default.
	Default       string
	AutoIncrement bool
	Comment       string
}

// Index is a secondary index or unique constraint.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
	// Type is the index method (BTREE, HASH, GIN, GIST, FULLTEXT);
	// empty means the dialect default.
	Type string
}

// ForeignKey is a referential constraint.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   string
	OnUpdate   string
}

// Table is a database table.
type Table struct {
	Name        string
	Columns     []*Column
	PrimaryKey  []string
	Indexes     []*Index
	ForeignKeys []*ForeignKey
	Comment     string
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Index returns the named index, or nil.
func (t *Table) Index(name string) *Index {
	for _, i := range t.Indexes {
		if i.Name == name {
			return i
		}
	}
	return nil
}

// ForeignKey returns the named foreign key, or nil.
func (t *Table) ForeignKey(name string) *ForeignKey {
	for _, fk := range t.ForeignKeys {
		if fk.Name == name {
			return fk
		}
	}
	return nil
}

// ID implements the dependency-node contract for topological sorting.
func (t *Table) ID() string { return t.Name }

// Dependencies returns the tables this table references. Self
// references are excluded; they never order creation.
func (t *Table) Dependencies() []string {
	var deps []string
	for _, fk := range t.ForeignKeys {
		if fk.RefTable != t.Name {
			deps = append(deps, fk.RefTable)
		}
	}
	return deps
}

// Enum is a database-level enum type.
type Enum struct {
	Name   string
	Values []string
}

// View is a database view.
type View struct {
	Name       string
	Definition string
}

// Schema is the full state of one database schema.
type Schema struct {
	Name   string
	Tables []*Table
	Enums  []*Enum
	Views  []*View
}

// Table returns the named table, or nil.
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Enum returns the named enum, or nil.
func (s *Schema) Enum(name string) *Enum {
	for _, e := range s.Enums {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// View returns the named view, or nil.
func (s *Schema) View(name string) *View {
	for _, v := range s.Views {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// TableNames returns the table names, sorted.
func (s *Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names
}

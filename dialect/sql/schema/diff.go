package schema

import (
	"slices"
	"sort"
)

// ColumnChange pairs the before and after state of one altered column.
type ColumnChange struct {
	From *Column
	To   *Column
}

// TableDiff describes the changes to one table that exists on both
// sides. Slices are ordered by name so the diff is deterministic.
type TableDiff struct {
	Name              string
	ColumnsAdded      []*Column
	ColumnsRemoved    []*Column
	ColumnsAltered    []*ColumnChange
	IndexesAdded      []*Index
	IndexesRemoved    []*Index
	FKsAdded          []*ForeignKey
	FKsRemoved        []*ForeignKey
	PrimaryKeyChanged bool
	// PrimaryKey is the new key when PrimaryKeyChanged.
	PrimaryKey []string
}

// Empty reports whether the table diff carries no changes.
func (d *TableDiff) Empty() bool {
	return len(d.ColumnsAdded) == 0 && len(d.ColumnsRemoved) == 0 &&
		len(d.ColumnsAltered) == 0 && len(d.IndexesAdded) == 0 &&
		len(d.IndexesRemoved) == 0 && len(d.FKsAdded) == 0 &&
		len(d.FKsRemoved) == 0 && !d.PrimaryKeyChanged
}

// EnumDiff describes value changes to one enum type.
type EnumDiff struct {
	Name    string
	Added   []string
	Removed []string
}

// Diff is a deterministic, ordered description of the changes between
// two schema states. TablesAdded is topologically sorted so referenced
// tables are created first; TablesRemoved is the reverse so referents
// are dropped first.
type Diff struct {
	TablesAdded   []*Table
	TablesRemoved []*Table
	TablesAltered []*TableDiff
	EnumsAdded    []*Enum
	EnumsRemoved  []*Enum
	EnumsAltered  []*EnumDiff
	ViewsAdded    []*View
	ViewsRemoved  []*View
	ViewsAltered  []*View
}

// Empty reports whether the two schemas are identical.
func (d *Diff) Empty() bool {
	return len(d.TablesAdded) == 0 && len(d.TablesRemoved) == 0 &&
		len(d.TablesAltered) == 0 && len(d.EnumsAdded) == 0 &&
		len(d.EnumsRemoved) == 0 && len(d.EnumsAltered) == 0 &&
		len(d.ViewsAdded) == 0 && len(d.ViewsRemoved) == 0 &&
		len(d.ViewsAltered) == 0
}

// DiffSchemas computes the change set that takes a database from one
// state to another. The result is stable: the same inputs always
// produce the same diff, element for element.
func DiffSchemas(from, to *Schema) (*Diff, error) {
	d := &Diff{}
	diffEnums(from, to, d)

	var added []*Table
	for _, t := range to.Tables {
		if from.Table(t.Name) == nil {
			added = append(added, t)
		}
	}
	sorted, err := sortTables(added)
	if err != nil {
		return nil, err
	}
	d.TablesAdded = sorted

	var removed []*Table
	for _, t := range from.Tables {
		if to.Table(t.Name) == nil {
			removed = append(removed, t)
		}
	}
	sorted, err = sortTables(removed)
	if err != nil {
		return nil, err
	}
	d.TablesRemoved = reverseTables(sorted)

	names := to.TableNames()
	for _, name := range names {
		prev := from.Table(name)
		if prev == nil {
			continue
		}
		td := diffTable(prev, to.Table(name))
		if !td.Empty() {
			d.TablesAltered = append(d.TablesAltered, td)
		}
	}
	diffViews(from, to, d)
	return d, nil
}

func diffTable(from, to *Table) *TableDiff {
	d := &TableDiff{Name: to.Name}
	for _, c := range sortedColumns(to.Columns) {
		prev := from.Column(c.Name)
		switch {
		case prev == nil:
			d.ColumnsAdded = append(d.ColumnsAdded, c)
		case !equalColumns(prev, c):
			d.ColumnsAltered = append(d.ColumnsAltered, &ColumnChange{From: prev, To: c})
		}
	}
	for _, c := range sortedColumns(from.Columns) {
		if to.Column(c.Name) == nil {
			d.ColumnsRemoved = append(d.ColumnsRemoved, c)
		}
	}
	for _, i := range sortedIndexes(to.Indexes) {
		prev := from.Index(i.Name)
		if prev == nil {
			d.IndexesAdded = append(d.IndexesAdded, i)
		} else if !equalIndexes(prev, i) {
			d.IndexesRemoved = append(d.IndexesRemoved, prev)
			d.IndexesAdded = append(d.IndexesAdded, i)
		}
	}
	for _, i := range sortedIndexes(from.Indexes) {
		if to.Index(i.Name) == nil {
			d.IndexesRemoved = append(d.IndexesRemoved, i)
		}
	}
	for _, fk := range sortedFKs(to.ForeignKeys) {
		prev := from.ForeignKey(fk.Name)
		if prev == nil {
			d.FKsAdded = append(d.FKsAdded, fk)
		} else if !equalFKs(prev, fk) {
			d.FKsRemoved = append(d.FKsRemoved, prev)
			d.FKsAdded = append(d.FKsAdded, fk)
		}
	}
	for _, fk := range sortedFKs(from.ForeignKeys) {
		if to.ForeignKey(fk.Name) == nil {
			d.FKsRemoved = append(d.FKsRemoved, fk)
		}
	}
	if !slices.Equal(from.PrimaryKey, to.PrimaryKey) {
		d.PrimaryKeyChanged = true
		d.PrimaryKey = to.PrimaryKey
	}
	return d
}

func diffEnums(from, to *Schema, d *Diff) {
	for _, e := range sortedEnums(to.Enums) {
		prev := from.Enum(e.Name)
		if prev == nil {
			d.EnumsAdded = append(d.EnumsAdded, e)
			continue
		}
		ed := &EnumDiff{Name: e.Name}
		for _, v := range e.Values {
			if !slices.Contains(prev.Values, v) {
				ed.Added = append(ed.Added, v)
			}
		}
		for _, v := range prev.Values {
			if !slices.Contains(e.Values, v) {
				ed.Removed = append(ed.Removed, v)
			}
		}
		if len(ed.Added) > 0 || len(ed.Removed) > 0 {
			d.EnumsAltered = append(d.EnumsAltered, ed)
		}
	}
	for _, e := range sortedEnums(from.Enums) {
		if to.Enum(e.Name) == nil {
			d.EnumsRemoved = append(d.EnumsRemoved, e)
		}
	}
}

func diffViews(from, to *Schema, d *Diff) {
	for _, v := range to.Views {
		prev := from.View(v.Name)
		switch {
		case prev == nil:
			d.ViewsAdded = append(d.ViewsAdded, v)
		case prev.Definition != v.Definition:
			d.ViewsAltered = append(d.ViewsAltered, v)
		}
	}
	for _, v := range from.Views {
		if to.View(v.Name) == nil {
			d.ViewsRemoved = append(d.ViewsRemoved, v)
		}
	}
	sort.Slice(d.ViewsAdded, func(i, j int) bool { return d.ViewsAdded[i].Name < d.ViewsAdded[j].Name })
	sort.Slice(d.ViewsRemoved, func(i, j int) bool { return d.ViewsRemoved[i].Name < d.ViewsRemoved[j].Name })
	sort.Slice(d.ViewsAltered, func(i, j int) bool { return d.ViewsAltered[i].Name < d.ViewsAltered[j].Name })
}

func equalColumns(a, b *Column) bool {
	return a.Type == b.Type && a.RawType == b.RawType &&
		a.EnumName == b.EnumName && a.Nullable == b.Nullable &&
		a.Default == b.Default && a.AutoIncrement == b.AutoIncrement
}

func equalIndexes(a, b *Index) bool {
	return a.Unique == b.Unique && a.Type == b.Type && slices.Equal(a.Columns, b.Columns)
}

func equalFKs(a, b *ForeignKey) bool {
	return a.RefTable == b.RefTable && a.OnDelete == b.OnDelete &&
		a.OnUpdate == b.OnUpdate && slices.Equal(a.Columns, b.Columns) &&
		slices.Equal(a.RefColumns, b.RefColumns)
}

func sortedColumns(cols []*Column) []*Column {
	out := slices.Clone(cols)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedIndexes(idx []*Index) []*Index {
	out := slices.Clone(idx)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedFKs(fks []*ForeignKey) []*ForeignKey {
	out := slices.Clone(fks)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedEnums(enums []*Enum) []*Enum {
	out := slices.Clone(enums)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cbergoon/merkletree"
)

// Fingerprint is the hierarchical hash of a schema state: a merkle
// root over per-table hashes, kept so drift can be localized without
// re-diffing everything.
type Fingerprint struct {
	Root   string
	Tables map[string]string
}

// DriftReport names the tables whose hashes differ between the
// expected state (from migrations) and the live database.
type DriftReport struct {
	Changed []string
	// InSync is true when the roots match.
	InSync bool
}

// tableLeaf implements merkletree.Content over one table hash.
type tableLeaf struct {
	hash string
}

func (l tableLeaf) CalculateHash() ([]byte, error) {
	sum := sha256.Sum256([]byte(l.hash))
	return sum[:], nil
}

func (l tableLeaf) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(tableLeaf)
	if !ok {
		return false, nil
	}
	return l.hash == o.hash, nil
}

// FingerprintSchema computes the schema's merkle fingerprint. Tables
// are hashed over their sorted columns, indexes and foreign keys, so
// the fingerprint is independent of introspection order.
func FingerprintSchema(s *Schema) (*Fingerprint, error) {
	fp := &Fingerprint{Tables: make(map[string]string, len(s.Tables))}
	names := s.TableNames()
	leaves := make([]merkletree.Content, 0, len(names))
	for _, name := range names {
		h := hashTable(s.Table(name))
		fp.Tables[name] = h
		leaves = append(leaves, tableLeaf{hash: h})
	}
	if len(leaves) == 0 {
		sum := sha256.Sum256(nil)
		fp.Root = hex.EncodeToString(sum[:])
		return fp, nil
	}
	tree, err := merkletree.NewTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("lode/schema: build drift tree: %w", err)
	}
	fp.Root = hex.EncodeToString(tree.MerkleRoot())
	return fp, nil
}

// DetectDrift compares the expected state against the live one and
// returns the tables that changed. Equal roots short-circuit.
func DetectDrift(expected, actual *Schema) (*DriftReport, error) {
	efp, err := FingerprintSchema(expected)
	if err != nil {
		return nil, err
	}
	afp, err := FingerprintSchema(actual)
	if err != nil {
		return nil, err
	}
	if efp.Root == afp.Root {
		return &DriftReport{InSync: true}, nil
	}
	changed := map[string]bool{}
	for name, h := range efp.Tables {
		if afp.Tables[name] != h {
			changed[name] = true
		}
	}
	for name := range afp.Tables {
		if _, ok := efp.Tables[name]; !ok {
			changed[name] = true
		}
	}
	report := &DriftReport{}
	for name := range changed {
		report.Changed = append(report.Changed, name)
	}
	sort.Strings(report.Changed)
	return report, nil
}

func hashTable(t *Table) string {
	var sb strings.Builder
	sb.WriteString("table:" + t.Name + "\n")
	for _, c := range sortedColumns(t.Columns) {
		fmt.Fprintf(&sb, "col:%s:%s:%s:%s:%t:%s:%t\n",
			c.Name, c.Type, c.RawType, c.EnumName, c.Nullable, c.Default, c.AutoIncrement)
	}
	fmt.Fprintf(&sb, "pk:%s\n", strings.Join(t.PrimaryKey, ","))
	for _, i := range sortedIndexes(t.Indexes) {
		fmt.Fprintf(&sb, "idx:%s:%s:%t:%s\n", i.Name, strings.Join(i.Columns, ","), i.Unique, i.Type)
	}
	for _, fk := range sortedFKs(t.ForeignKeys) {
		fmt.Fprintf(&sb, "fk:%s:%s:%s:%s:%s:%s\n",
			fk.Name, strings.Join(fk.Columns, ","), fk.RefTable,
			strings.Join(fk.RefColumns, ","), fk.OnDelete, fk.OnUpdate)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

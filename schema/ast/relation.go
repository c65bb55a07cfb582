package ast

// RelationKind classifies a resolved relation by the cardinality on
// both sides.
type RelationKind int

const (
	OneToOne RelationKind = iota
	OneToMany
	ManyToOne
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	}
	return "unknown"
}

// RefAction is a referential action for ON DELETE / ON UPDATE.
type RefAction string

const (
	Cascade    RefAction = "CASCADE"
	Restrict   RefAction = "RESTRICT"
	NoAction   RefAction = "NO ACTION"
	SetNull    RefAction = "SET NULL"
	SetDefault RefAction = "SET DEFAULT"
)

// Relation is a resolved connection between two models. The validator
// produces these from @relation attributes and back-reference matching;
// the parser never emits them.
type Relation struct {
	// Name disambiguates multiple relations between the same two
	// models. Empty for the common single-relation case.
	Name string

	FromModel  string
	FromField  string
	FromFields []string // local FK columns on the from side

	ToModel  string
	ToField  string   // back-reference field name, empty if none
	ToFields []string // referenced columns on the to side

	Kind     RelationKind
	OnDelete RefAction
	OnUpdate RefAction
}

// IndexType is an optional index access-method hint.
type IndexType string

const (
	IndexBTree    IndexType = "BTREE"
	IndexHash     IndexType = "HASH"
	IndexGIN      IndexType = "GIN"
	IndexGIST     IndexType = "GIST"
	IndexFullText IndexType = "FULLTEXT"
)

// IndexField is a single indexed column with its sort order.
type IndexField struct {
	Name string
	Desc bool
}

// Index describes a model-level index assembled from @@index/@@unique
// attributes or from database introspection.
type Index struct {
	Name   string
	Fields []IndexField
	Unique bool
	Type   IndexType // empty means engine default
}

package types

import "time"

// RelationType tags a stored link between two entries. Only explicit
// relations are persisted; similarity suggestions are computed on read
// and never stored.
type RelationType string

const (
	// RelationLinked is an explicit user-created link.
	RelationLinked RelationType = "linked"
	// RelationSupersededBy records lineage when an entry is archived and
	// recreated under a different category.
	RelationSupersededBy RelationType = "superseded_by"
)

// Valid reports whether t is a known relation type.
func (t RelationType) Valid() bool {
	return t == RelationLinked || t == RelationSupersededBy
}

// Relation is a stored link between two entry ids.
type Relation struct {
	ID        string
	FromID    string
	ToID      string
	Type      RelationType
	CreatedAt time.Time
}

// Suggestion pairs an entry with its similarity to a source entry.
// Suggestions are derived from embeddings and never persisted.
type Suggestion struct {
	Entry      *Entry
	Similarity float64
}

package types

import (
	"sort"
	"strings"
	"time"
)

// Category classifies an entry. The set is closed; unknown values are
// rejected at creation time.
type Category string

const (
	CategoryPerson  Category = "person"
	CategoryProject Category = "project"
	CategoryIdea    Category = "idea"
	CategoryAdmin   Category = "admin"
	CategoryReading Category = "reading"
)

// AllCategories lists every valid category in display order.
var AllCategories = []Category{
	CategoryPerson,
	CategoryProject,
	CategoryIdea,
	CategoryAdmin,
	CategoryReading,
}

// ParseCategory validates a raw string against the closed category set.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// Valid reports whether the category is one of the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryPerson, CategoryProject, CategoryIdea, CategoryAdmin, CategoryReading:
		return true
	}
	return false
}

// DefaultStatus returns the canonical initial status for the category.
// Statuses are a per-category vocabulary, not a shared enum.
func (c Category) DefaultStatus() string {
	switch c {
	case CategoryPerson:
		return "active"
	case CategoryProject:
		return "planned"
	case CategoryIdea:
		return "new"
	case CategoryAdmin:
		return "todo"
	case CategoryReading:
		return "unread"
	}
	return ""
}

// Priority is a shared vocabulary across all categories.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a raw priority string. Empty input is allowed
// and means "no priority".
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", ErrInvalidPriority
}

// Content is the open attribute bag attached to an entry. Keys are
// category-specific (notes, next action, source URL, ...) but stored
// generically as JSON.
type Content map[string]any

// Merge overlays patch onto c and returns the union. The merge is shallow:
// a supplied key replaces the existing value wholesale, and keys cannot be
// removed, only overwritten or added.
func (c Content) Merge(patch Content) Content {
	merged := make(Content, len(c)+len(patch))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// StringLeaves collects every string-valued leaf of the bag, descending
// into nested maps and slices. Traversal is depth-first in sorted key
// order so the result is deterministic for a given bag.
func (c Content) StringLeaves() []string {
	var leaves []string
	collectStringLeaves(map[string]any(c), &leaves)
	return leaves
}

func collectStringLeaves(v any, out *[]string) {
	switch val := v.(type) {
	case string:
		if val != "" {
			*out = append(*out, val)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStringLeaves(val[k], out)
		}
	case Content:
		collectStringLeaves(map[string]any(val), out)
	case []any:
		for _, item := range val {
			collectStringLeaves(item, out)
		}
	}
}

// Entry is the central record of the knowledge store: a typed, mutable
// row enriched with free text and an optional semantic vector.
type Entry struct {
	ID       string   // Immutable primary identifier
	LegacyID string   // Optional prior-system identifier, immutable once set
	Category Category // Immutable; change is modeled as archive + recreate
	Title    string
	Status   string
	Priority Priority
	DueDate  *time.Time

	// Content holds category-specific fields. Updates are shallow merges.
	Content Content

	// Embedding is derived from Title plus the string leaves of Content.
	// Nil when the provider was unavailable at last write; callers must
	// tolerate a stale or missing vector.
	Embedding []float32

	// ArchivedAt is non-nil once the entry is soft-deleted. Archived
	// entries never appear in listings or search.
	ArchivedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Archived reports whether the entry has been soft-deleted.
func (e *Entry) Archived() bool {
	return e.ArchivedAt != nil
}

// EmbeddingSource builds the text the entry's vector is derived from:
// the title followed by every string leaf of the content bag.
func (e *Entry) EmbeddingSource() string {
	parts := append([]string{e.Title}, e.Content.StringLeaves()...)
	return strings.Join(parts, "\n")
}

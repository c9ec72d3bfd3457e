package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmorgan/keep/pkg/types"
)

// SortKey selects the column a listing is ordered by.
type SortKey string

const (
	SortCreatedAt SortKey = "created_at"
	SortUpdatedAt SortKey = "updated_at"
	SortDueDate   SortKey = "due_date"
	SortTitle     SortKey = "title"
)

// Valid reports whether the sort key is one of the supported columns.
func (k SortKey) Valid() bool {
	switch k {
	case SortCreatedAt, SortUpdatedAt, SortDueDate, SortTitle:
		return true
	}
	return false
}

// ListFilters narrows and orders an entry listing. Archived entries are
// excluded regardless of the filters set here.
type ListFilters struct {
	Category types.Category // Exact match when non-empty
	Status   string         // Case-insensitive exact match when non-empty
	Priority types.Priority // Exact match when non-empty
	Search   string         // Substring over title and string content values
	Limit    int            // 0 means no limit
	Offset   int
	SortBy   SortKey // Defaults to SortCreatedAt
	SortDesc bool
}

// EntryVector is a lightweight projection of an entry's id and embedding
// used by similarity scans. Vector is nil when the entry has no embedding.
type EntryVector struct {
	EntryID string
	Vector  []float32
}

// EntryStore groups the entry row operations. It is implemented by both
// the storage handle and an open transaction.
type EntryStore interface {
	CreateEntry(ctx context.Context, entry *types.Entry) error
	GetEntry(ctx context.Context, id string) (*types.Entry, error)
	GetEntryByLegacyID(ctx context.Context, legacyID string) (*types.Entry, error)
	ListEntries(ctx context.Context, filters ListFilters) ([]*types.Entry, error)

	// UpdateEntry persists the mutable primary fields (title, status,
	// priority, due date, content) and bumps updated_at. It never touches
	// the embedding column.
	UpdateEntry(ctx context.Context, entry *types.Entry) error

	// UpdateEmbedding sets or clears the embedding column without
	// touching any primary field.
	UpdateEmbedding(ctx context.Context, id string, vector []float32) error

	// ArchiveEntry soft-deletes the entry. Archiving an already-archived
	// entry is a no-op that preserves the original timestamp.
	ArchiveEntry(ctx context.Context, id string, at time.Time) error
}

// Storage defines the persistence surface for entries, relations, the
// inbox log, and process-wide config.
type Storage interface {
	EntryStore

	// ScanEmbeddings returns the id and embedding of every non-archived
	// entry, optionally restricted to a category. Entries without an
	// embedding are included with a nil vector.
	ScanEmbeddings(ctx context.Context, category types.Category) ([]EntryVector, error)

	// KeywordScan performs a case-insensitive substring match over title
	// and string content values of non-archived entries, ordered by
	// updated_at descending then id ascending.
	KeywordScan(ctx context.Context, query string, category types.Category, limit int) ([]*types.Entry, error)

	// MissingEmbeddings lists non-archived entries whose embedding column
	// is null, oldest first.
	MissingEmbeddings(ctx context.Context, limit int) ([]*types.Entry, error)

	// Relation operations
	CreateRelation(ctx context.Context, rel *types.Relation) error
	ListRelations(ctx context.Context, entryID string) ([]*types.Relation, error)

	// Inbox log operations
	AppendInbox(ctx context.Context, item *types.InboxLogEntry) error
	SetInboxStatus(ctx context.Context, id string, status types.InboxStatus) error
	ListInbox(ctx context.Context, status types.InboxStatus, limit int) ([]*types.InboxLogEntry, error)

	// Config operations
	GetConfig(ctx context.Context, key string) (json.RawMessage, error)
	SetConfig(ctx context.Context, key string, value json.RawMessage) error

	// GetStatus summarizes store contents for reporting.
	GetStatus(ctx context.Context) (*types.StoreStatus, error)

	// Database operations
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is an open transaction over the entry rows.
type Tx interface {
	Commit() error
	Rollback() error
	EntryStore
}

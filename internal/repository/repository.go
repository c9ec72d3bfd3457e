package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmorgan/keep/internal/embedder"
	"github.com/jmorgan/keep/internal/logger"
	"github.com/jmorgan/keep/internal/storage"
	"github.com/jmorgan/keep/pkg/types"
)

// embedTimeout bounds every call to the embedding provider. A timeout is
// treated like any other provider failure: the write proceeds without a
// vector.
const embedTimeout = 10 * time.Second

// Repository owns the entry lifecycle: create, lookup, filtered listing,
// field update with content-merge semantics, and soft deletion. It also
// exposes the inbox log and config surfaces that share the store handle.
type Repository struct {
	store    storage.Storage
	embedder embedder.Embedder
	log      *logger.Logger
}

// New creates a Repository over the given store and embedding provider.
func New(store storage.Storage, emb embedder.Embedder, baseLog *logger.Logger) *Repository {
	return &Repository{
		store:    store,
		embedder: emb,
		log:      baseLog.With("component", "repository"),
	}
}

// CreateParams are the caller-supplied fields for a new entry.
type CreateParams struct {
	Category string
	Title    string
	Status   string // Defaults to the category's canonical initial status
	Priority string
	Content  types.Content
	DueDate  *time.Time
	LegacyID string // Set only when importing records from a prior system
}

// Create validates the parameters, persists the entry, and attempts to
// attach an embedding. Embedding failure never fails the create; the
// entry is simply stored with a null vector.
func (r *Repository) Create(ctx context.Context, params CreateParams) (*types.Entry, error) {
	category, err := types.ParseCategory(params.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidCategory, params.Category)
	}
	if params.Title == "" {
		return nil, types.ErrEmptyTitle
	}
	priority, err := types.ParsePriority(params.Priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidPriority, params.Priority)
	}

	status := params.Status
	if status == "" {
		status = category.DefaultStatus()
	}
	content := params.Content
	if content == nil {
		content = types.Content{}
	}

	now := time.Now().UTC()
	entry := &types.Entry{
		ID:        uuid.New().String(),
		LegacyID:  params.LegacyID,
		Category:  category,
		Title:     params.Title,
		Status:    status,
		Priority:  priority,
		DueDate:   params.DueDate,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	entry.Embedding = r.tryEmbed(ctx, entry.EmbeddingSource())

	if err := r.store.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}

	r.log.Debug("entry created", "id", entry.ID, "category", string(category), "embedded", entry.Embedding != nil)
	return entry, nil
}

// tryEmbed asks the provider for a vector and swallows any failure,
// returning nil so callers proceed without one.
func (r *Repository) tryEmbed(ctx context.Context, source string) []float32 {
	if r.embedder == nil || source == "" {
		return nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	emb, err := r.embedder.GenerateEmbedding(embedCtx, embedder.EmbeddingRequest{Text: source})
	if err != nil {
		r.log.Warn("embedding unavailable, proceeding without vector", "error", err)
		return nil
	}
	return emb.Vector
}

// Get returns the entry with the given primary id. Archived entries are
// still returned by direct lookup.
func (r *Repository) Get(ctx context.Context, id string) (*types.Entry, error) {
	return r.store.GetEntry(ctx, id)
}

// GetByLegacyID returns the entry carrying the given prior-system id.
func (r *Repository) GetByLegacyID(ctx context.Context, legacyID string) (*types.Entry, error) {
	return r.store.GetEntryByLegacyID(ctx, legacyID)
}

// Resolve looks an entry up by primary id and falls back to the legacy id
// only after the primary lookup misses.
func (r *Repository) Resolve(ctx context.Context, id string) (*types.Entry, error) {
	entry, err := r.store.GetEntry(ctx, id)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	return r.store.GetEntryByLegacyID(ctx, id)
}

// List returns non-archived entries matching the filters, ordered by the
// requested column with ties broken by id ascending.
func (r *Repository) List(ctx context.Context, filters storage.ListFilters) ([]*types.Entry, error) {
	if filters.SortBy == "" {
		filters.SortBy = storage.SortCreatedAt
	}
	if !filters.SortBy.Valid() {
		return nil, fmt.Errorf("invalid sort key %q", filters.SortBy)
	}
	if filters.Limit < 0 || filters.Offset < 0 {
		return nil, fmt.Errorf("limit and offset must be non-negative")
	}
	if filters.Category != "" && !filters.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidCategory, filters.Category)
	}
	return r.store.ListEntries(ctx, filters)
}

// UpdateParams carries a partial update. Nil fields are untouched.
// Content is a shallow merge: supplied keys overwrite or add, and keys
// can never be removed.
type UpdateParams struct {
	Title    *string
	Status   *string
	Priority *string
	DueDate  *time.Time
	Content  types.Content
}

// Update applies the partial update inside a transaction, then
// regenerates the embedding when title or content changed. The primary
// field write and the embedding write are two sequential steps: a reader
// in between observes updated fields with the previous vector, and a
// regeneration failure leaves the previous vector in place.
func (r *Repository) Update(ctx context.Context, id string, params UpdateParams) (*types.Entry, error) {
	if params.Priority != nil {
		if _, err := types.ParsePriority(*params.Priority); err != nil {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidPriority, *params.Priority)
		}
	}
	if params.Title != nil && *params.Title == "" {
		return nil, types.ErrEmptyTitle
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := tx.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Archived() {
		return nil, types.ErrEntryArchived
	}

	textChanged := false
	if params.Title != nil && *params.Title != entry.Title {
		entry.Title = *params.Title
		textChanged = true
	}
	if params.Status != nil {
		entry.Status = *params.Status
	}
	if params.Priority != nil {
		entry.Priority = types.Priority(*params.Priority)
	}
	if params.DueDate != nil {
		entry.DueDate = params.DueDate
	}
	if params.Content != nil {
		entry.Content = entry.Content.Merge(params.Content)
		textChanged = true
	}
	entry.UpdatedAt = time.Now().UTC()

	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if textChanged {
		if vector := r.tryEmbed(ctx, entry.EmbeddingSource()); vector != nil {
			if err := r.store.UpdateEmbedding(ctx, id, vector); err != nil {
				r.log.Warn("failed to store regenerated embedding", "id", id, "error", err)
			} else {
				entry.Embedding = vector
			}
		}
	}

	r.log.Debug("entry updated", "id", id, "reembedded", textChanged)
	return entry, nil
}

// Archive soft-deletes the entry. The operation is idempotent: archiving
// an already-archived entry returns it unchanged.
func (r *Repository) Archive(ctx context.Context, id string) (*types.Entry, error) {
	if err := r.store.ArchiveEntry(ctx, id, time.Now().UTC()); err != nil {
		return nil, err
	}
	entry, err := r.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	r.log.Info("entry archived", "id", id)
	return entry, nil
}

// Recategorize moves an entry to a new category by archiving the old row
// and creating a fresh one, keeping Category immutable per entry. The new
// entry records lineage through a superseded_by relation from the old id.
func (r *Repository) Recategorize(ctx context.Context, id string, newCategory string) (*types.Entry, error) {
	category, err := types.ParseCategory(newCategory)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidCategory, newCategory)
	}

	old, err := r.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.Archived() {
		return nil, types.ErrEntryArchived
	}
	if old.Category == category {
		return old, nil
	}

	replacement, err := r.Create(ctx, CreateParams{
		Category: string(category),
		Title:    old.Title,
		Priority: string(old.Priority),
		Content:  old.Content,
		DueDate:  old.DueDate,
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.Archive(ctx, id); err != nil {
		return nil, err
	}

	rel := &types.Relation{
		ID:        uuid.New().String(),
		FromID:    old.ID,
		ToID:      replacement.ID,
		Type:      types.RelationSupersededBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateRelation(ctx, rel); err != nil {
		r.log.Warn("failed to record supersession lineage", "from", old.ID, "to", replacement.ID, "error", err)
	}

	r.log.Info("entry recategorized", "old", old.ID, "new", replacement.ID, "category", string(category))
	return replacement, nil
}

// LogInbox appends a capture/classification event to the audit trail.
func (r *Repository) LogInbox(ctx context.Context, rawText string, category string, confidence float64, entryID string, status string) (*types.InboxLogEntry, error) {
	cat, err := types.ParseCategory(category)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidCategory, category)
	}
	st, err := types.ParseInboxStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidInboxStatus, status)
	}

	item := &types.InboxLogEntry{
		ID:         uuid.New().String(),
		RawText:    rawText,
		Category:   cat,
		Confidence: confidence,
		EntryID:    entryID,
		Status:     st,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.AppendInbox(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// SetInboxStatus updates the lifecycle status of an inbox item, the only
// mutation the log permits.
func (r *Repository) SetInboxStatus(ctx context.Context, id string, status string) error {
	st, err := types.ParseInboxStatus(status)
	if err != nil {
		return fmt.Errorf("%w: %q", types.ErrInvalidInboxStatus, status)
	}
	return r.store.SetInboxStatus(ctx, id, st)
}

// ListInbox returns inbox items, optionally filtered by status, newest
// first.
func (r *Repository) ListInbox(ctx context.Context, status string, limit int) ([]*types.InboxLogEntry, error) {
	var st types.InboxStatus
	if status != "" {
		parsed, err := types.ParseInboxStatus(status)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidInboxStatus, status)
		}
		st = parsed
	}
	return r.store.ListInbox(ctx, st, limit)
}

// GetConfig reads a raw JSON config payload.
func (r *Repository) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	return r.store.GetConfig(ctx, key)
}

// SetConfig upserts a raw JSON config payload.
func (r *Repository) SetConfig(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("config value for %s is not valid JSON", key)
	}
	return r.store.SetConfig(ctx, key, value)
}

// Status summarizes the store for reporting surfaces.
func (r *Repository) Status(ctx context.Context) (*types.StoreStatus, error) {
	return r.store.GetStatus(ctx)
}

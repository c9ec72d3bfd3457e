package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorgan/keep/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, store)
	return store
}

func testEntry(id, title string, category types.Category) *types.Entry {
	now := time.Now().UTC()
	return &types.Entry{
		ID:        id,
		Category:  category,
		Title:     title,
		Status:    category.DefaultStatus(),
		Content:   types.Content{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	assert.NotNil(t, store)
	assert.NotNil(t, store.db)
}

func TestCreateEntry(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("e1", "Follow up with Sarah", types.CategoryPerson)
	entry.Content = types.Content{"notes": "met at conference"}

	err := store.CreateEntry(ctx, entry)
	require.NoError(t, err)

	// Duplicate id should fail
	dup := testEntry("e1", "Another", types.CategoryIdea)
	err = store.CreateEntry(ctx, dup)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetEntry(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("e1", "Website redesign", types.CategoryProject)
	entry.Priority = types.PriorityHigh
	due := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	entry.DueDate = &due
	entry.Content = types.Content{"notes": "kickoff next week", "budget": float64(5000)}
	entry.Embedding = []float32{0.1, 0.2, 0.3}
	require.NoError(t, store.CreateEntry(ctx, entry))

	got, err := store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Website redesign", got.Title)
	assert.Equal(t, types.CategoryProject, got.Category)
	assert.Equal(t, types.PriorityHigh, got.Priority)
	assert.Equal(t, "planned", got.Status)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, due.Unix(), got.DueDate.Unix())
	assert.Equal(t, "kickoff next week", got.Content["notes"])
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	assert.Nil(t, got.ArchivedAt)
}

func TestGetEntry_NotFound(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	_, err := store.GetEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetEntryByLegacyID(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("e1", "Imported record", types.CategoryReading)
	entry.LegacyID = "gas-42"
	require.NoError(t, store.CreateEntry(ctx, entry))

	got, err := store.GetEntryByLegacyID(ctx, "gas-42")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)

	_, err = store.GetEntryByLegacyID(ctx, "gas-99")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestListEntries_Filters(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	a := testEntry("a", "Alpha task", types.CategoryAdmin)
	a.Priority = types.PriorityHigh
	b := testEntry("b", "Beta project", types.CategoryProject)
	b.Status = "Active"
	c := testEntry("c", "Gamma person", types.CategoryPerson)
	c.Content = types.Content{"notes": "likes climbing"}
	for _, e := range []*types.Entry{a, b, c} {
		require.NoError(t, store.CreateEntry(ctx, e))
	}

	// Category filter
	got, err := store.ListEntries(ctx, ListFilters{Category: types.CategoryProject})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	// Status filter is case-insensitive
	got, err = store.ListEntries(ctx, ListFilters{Status: "active"})
	require.NoError(t, err)
	require.Len(t, got, 2) // person "active" default + project "Active"

	// Priority filter
	got, err = store.ListEntries(ctx, ListFilters{Priority: types.PriorityHigh})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	// Search matches string content values
	got, err = store.ListEntries(ctx, ListFilters{Search: "climbing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	// Search does not match JSON keys
	got, err = store.ListEntries(ctx, ListFilters{Search: "notes"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListEntries_SearchJSONEscapedCharacters(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	// json.Marshal escapes <, > and & in the stored content column; the
	// substring contract must still see through the encoding.
	e := testEntry("esc", "Draft review", types.CategoryIdea)
	e.Content = types.Content{"note": "compare x<y in the draft", "link": "a&b"}
	require.NoError(t, store.CreateEntry(ctx, e))

	for _, query := range []string{"x<y", "a&b", "x<y in"} {
		got, err := store.ListEntries(ctx, ListFilters{Search: query})
		require.NoError(t, err)
		require.Len(t, got, 1, "query %q", query)
		assert.Equal(t, "esc", got[0].ID)
	}

	// Non-ASCII substrings match case-insensitively too.
	u := testEntry("uni", "Ostergrüße planen", types.CategoryAdmin)
	require.NoError(t, store.CreateEntry(ctx, u))
	got, err := store.ListEntries(ctx, ListFilters{Search: "grüße"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "uni", got[0].ID)
}

func TestListEntries_SortAndPagination(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	titles := []string{"cherry", "apple", "banana"}
	for i, title := range titles {
		e := testEntry(title[:1], title, types.CategoryIdea)
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		e.UpdatedAt = e.CreatedAt
		require.NoError(t, store.CreateEntry(ctx, e))
	}

	got, err := store.ListEntries(ctx, ListFilters{SortBy: SortTitle})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "apple", got[0].Title)
	assert.Equal(t, "banana", got[1].Title)
	assert.Equal(t, "cherry", got[2].Title)

	got, err = store.ListEntries(ctx, ListFilters{SortBy: SortCreatedAt, SortDesc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "banana", got[0].Title)

	got, err = store.ListEntries(ctx, ListFilters{SortBy: SortCreatedAt, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "banana", got[0].Title)
}

func TestListEntries_DueDateSortsNullsLast(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	due := time.Now().Add(time.Hour).UTC()
	withDue := testEntry("a", "has due", types.CategoryAdmin)
	withDue.DueDate = &due
	noDue := testEntry("b", "no due", types.CategoryAdmin)
	require.NoError(t, store.CreateEntry(ctx, noDue))
	require.NoError(t, store.CreateEntry(ctx, withDue))

	got, err := store.ListEntries(ctx, ListFilters{SortBy: SortDueDate})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestUpdateEntry(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("e1", "Old title", types.CategoryIdea)
	require.NoError(t, store.CreateEntry(ctx, entry))

	entry.Title = "New title"
	entry.Status = "exploring"
	entry.Content = types.Content{"next_action": "write outline"}
	entry.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateEntry(ctx, entry))

	got, err := store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, "exploring", got.Status)
	assert.Equal(t, "write outline", got.Content["next_action"])
}

func TestUpdateEntry_NotFound(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	entry := testEntry("ghost", "Ghost", types.CategoryIdea)
	err := store.UpdateEntry(context.Background(), entry)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateEmbedding(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("e1", "Vectorized", types.CategoryIdea)
	require.NoError(t, store.CreateEntry(ctx, entry))

	require.NoError(t, store.UpdateEmbedding(ctx, "e1", []float32{1, 0, 0}))
	got, err := store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)

	// Embedding update must not bump updated_at or touch primary fields
	assert.Equal(t, entry.UpdatedAt.Unix(), got.UpdatedAt.Unix())
	assert.Equal(t, "Vectorized", got.Title)

	err = store.UpdateEmbedding(ctx, "missing", []float32{1})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestArchiveEntry(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("e1", "Done project", types.CategoryProject)
	require.NoError(t, store.CreateEntry(ctx, entry))

	archivedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.ArchiveEntry(ctx, "e1", archivedAt))

	// Direct lookup still returns the archived row
	got, err := store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)
	assert.Equal(t, archivedAt.Unix(), got.ArchivedAt.Unix())

	// Listings exclude it under every filter combination
	listed, err := store.ListEntries(ctx, ListFilters{})
	require.NoError(t, err)
	assert.Empty(t, listed)
	listed, err = store.ListEntries(ctx, ListFilters{Category: types.CategoryProject})
	require.NoError(t, err)
	assert.Empty(t, listed)

	// Re-archiving is a no-op that keeps the original timestamp
	require.NoError(t, store.ArchiveEntry(ctx, "e1", archivedAt.Add(time.Hour)))
	got, err = store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, archivedAt.Unix(), got.ArchivedAt.Unix())

	err = store.ArchiveEntry(ctx, "missing", archivedAt)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestScanEmbeddings(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	withVec := testEntry("a", "has vector", types.CategoryIdea)
	withVec.Embedding = []float32{1, 2, 3}
	noVec := testEntry("b", "no vector", types.CategoryIdea)
	archived := testEntry("c", "archived", types.CategoryIdea)
	archived.Embedding = []float32{4, 5, 6}
	for _, e := range []*types.Entry{withVec, noVec, archived} {
		require.NoError(t, store.CreateEntry(ctx, e))
	}
	require.NoError(t, store.ArchiveEntry(ctx, "c", time.Now()))

	scanned, err := store.ScanEmbeddings(ctx, "")
	require.NoError(t, err)
	require.Len(t, scanned, 2)

	byID := map[string][]float32{}
	for _, ev := range scanned {
		byID[ev.EntryID] = ev.Vector
	}
	assert.Equal(t, []float32{1, 2, 3}, byID["a"])
	assert.Nil(t, byID["b"])
}

func TestKeywordScan(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	older := testEntry("a", "Sarah kickoff", types.CategoryProject)
	older.UpdatedAt = base
	newer := testEntry("b", "Lunch", types.CategoryPerson)
	newer.Content = types.Content{"notes": "lunch with Sarah on Friday"}
	newer.UpdatedAt = base.Add(time.Minute)
	unrelated := testEntry("c", "Taxes", types.CategoryAdmin)
	unrelated.UpdatedAt = base
	for _, e := range []*types.Entry{older, newer, unrelated} {
		require.NoError(t, store.CreateEntry(ctx, e))
	}

	got, err := store.KeywordScan(ctx, "sarah", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ordered by updated_at descending
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	got, err = store.KeywordScan(ctx, "sarah", types.CategoryProject, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestMissingEmbeddings(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	withVec := testEntry("a", "has vector", types.CategoryIdea)
	withVec.Embedding = []float32{1}
	noVec := testEntry("b", "no vector", types.CategoryIdea)
	require.NoError(t, store.CreateEntry(ctx, withVec))
	require.NoError(t, store.CreateEntry(ctx, noVec))

	missing, err := store.MissingEmbeddings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "b", missing[0].ID)
}

func TestRelations(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateEntry(ctx, testEntry(id, id, types.CategoryIdea)))
	}

	base := time.Now().UTC().Truncate(time.Second)
	first := &types.Relation{ID: "r1", FromID: "a", ToID: "b", Type: types.RelationLinked, CreatedAt: base}
	second := &types.Relation{ID: "r2", FromID: "c", ToID: "a", Type: types.RelationLinked, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, store.CreateRelation(ctx, first))
	require.NoError(t, store.CreateRelation(ctx, second))

	// Duplicate link rejected
	err := store.CreateRelation(ctx, &types.Relation{ID: "r3", FromID: "a", ToID: "b", Type: types.RelationLinked, CreatedAt: base})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Dangling target rejected
	err = store.CreateRelation(ctx, &types.Relation{ID: "r4", FromID: "a", ToID: "ghost", Type: types.RelationLinked, CreatedAt: base})
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Both directions returned, creation order preserved
	rels, err := store.ListRelations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, "r1", rels[0].ID)
	assert.Equal(t, "r2", rels[1].ID)
}

func TestInboxLog(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	item := &types.InboxLogEntry{
		ID:         "i1",
		RawText:    "call the dentist tomorrow",
		Category:   types.CategoryAdmin,
		Confidence: 0.93,
		EntryID:    "e1",
		Status:     types.InboxProcessed,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.AppendInbox(ctx, item))

	items, err := store.ListInbox(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "call the dentist tomorrow", items[0].RawText)
	assert.InDelta(t, 0.93, items[0].Confidence, 1e-9)

	require.NoError(t, store.SetInboxStatus(ctx, "i1", types.InboxNeedsReview))
	items, err = store.ListInbox(ctx, types.InboxNeedsReview, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = store.ListInbox(ctx, types.InboxProcessed, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	err = store.SetInboxStatus(ctx, "missing", types.InboxIgnored)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestConfig(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	_, err := store.GetConfig(ctx, "calendar_token")
	assert.ErrorIs(t, err, types.ErrNotFound)

	payload := json.RawMessage(`{"access":"abc","expires":1700000000}`)
	require.NoError(t, store.SetConfig(ctx, "calendar_token", payload))

	got, err := store.GetConfig(ctx, "calendar_token")
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(got))

	// Upsert overwrites
	require.NoError(t, store.SetConfig(ctx, "calendar_token", json.RawMessage(`{"access":"def"}`)))
	got, err = store.GetConfig(ctx, "calendar_token")
	require.NoError(t, err)
	assert.JSONEq(t, `{"access":"def"}`, string(got))
}

func TestGetStatus(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	withVec := testEntry("a", "vectorized", types.CategoryPerson)
	withVec.Embedding = []float32{1}
	noVec := testEntry("b", "plain", types.CategoryProject)
	gone := testEntry("c", "archived", types.CategoryProject)
	for _, e := range []*types.Entry{withVec, noVec, gone} {
		require.NoError(t, store.CreateEntry(ctx, e))
	}
	require.NoError(t, store.ArchiveEntry(ctx, "c", time.Now()))
	require.NoError(t, store.AppendInbox(ctx, &types.InboxLogEntry{
		ID: "i1", RawText: "??", Category: types.CategoryIdea,
		Status: types.InboxNeedsReview, CreatedAt: time.Now(),
	}))

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalEntries)
	assert.Equal(t, 1, status.EntriesByCategory[types.CategoryPerson])
	assert.Equal(t, 1, status.EntriesByCategory[types.CategoryProject])
	assert.Equal(t, 1, status.ArchivedEntries)
	assert.Equal(t, 1, status.MissingEmbeddings)
	assert.Equal(t, 1, status.InboxNeedsReview)
}

func TestTransactionRollback(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.CreateEntry(ctx, testEntry("e1", "uncommitted", types.CategoryIdea)))
	require.NoError(t, tx.Rollback())

	_, err = store.GetEntry(ctx, "e1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	blob := serializeVector(vec)
	assert.Equal(t, vec, deserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Mismatched dimensions and zero vectors yield 0
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmorgan/keep/pkg/types"
)

var (
	// ErrAlreadyExists is returned when trying to create a duplicate row
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) CreateEntry(ctx context.Context, entry *types.Entry) error {
	return t.storage.createEntryWithQuerier(ctx, t.tx, entry)
}

func (t *sqliteTx) GetEntry(ctx context.Context, id string) (*types.Entry, error) {
	return t.storage.getEntryWithQuerier(ctx, t.tx, id)
}

func (t *sqliteTx) GetEntryByLegacyID(ctx context.Context, legacyID string) (*types.Entry, error) {
	return t.storage.getEntryByLegacyIDWithQuerier(ctx, t.tx, legacyID)
}

func (t *sqliteTx) ListEntries(ctx context.Context, filters ListFilters) ([]*types.Entry, error) {
	return t.storage.listEntriesWithQuerier(ctx, t.tx, filters)
}

func (t *sqliteTx) UpdateEntry(ctx context.Context, entry *types.Entry) error {
	return t.storage.updateEntryWithQuerier(ctx, t.tx, entry)
}

func (t *sqliteTx) UpdateEmbedding(ctx context.Context, id string, vector []float32) error {
	return t.storage.updateEmbeddingWithQuerier(ctx, t.tx, id, vector)
}

func (t *sqliteTx) ArchiveEntry(ctx context.Context, id string, at time.Time) error {
	return t.storage.archiveEntryWithQuerier(ctx, t.tx, id, at)
}

// Entry operations

const entryColumns = `id, legacy_id, category, title, status, priority, content, embedding, due_date, archived_at, created_at, updated_at`

// scanner is implemented by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*types.Entry, error) {
	var entry types.Entry
	var legacyID, status, priority sql.NullString
	var contentJSON string
	var embedding []byte
	var dueDate, archivedAt sql.NullTime

	err := row.Scan(
		&entry.ID, &legacyID, &entry.Category, &entry.Title, &status, &priority,
		&contentJSON, &embedding, &dueDate, &archivedAt, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	entry.LegacyID = legacyID.String
	entry.Status = status.String
	entry.Priority = types.Priority(priority.String)
	if dueDate.Valid {
		d := dueDate.Time
		entry.DueDate = &d
	}
	if archivedAt.Valid {
		a := archivedAt.Time
		entry.ArchivedAt = &a
	}
	if len(embedding) > 0 {
		entry.Embedding = deserializeVector(embedding)
	}

	entry.Content = types.Content{}
	if contentJSON != "" {
		if err := json.Unmarshal([]byte(contentJSON), &entry.Content); err != nil {
			return nil, fmt.Errorf("failed to decode content for entry %s: %w", entry.ID, err)
		}
	}

	return &entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *SQLiteStorage) createEntryWithQuerier(ctx context.Context, q querier, entry *types.Entry) error {
	contentJSON, err := json.Marshal(entry.Content)
	if err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}

	var embedding []byte
	if len(entry.Embedding) > 0 {
		embedding = serializeVector(entry.Embedding)
	}

	query := `
		INSERT INTO entries (id, legacy_id, category, title, status, priority, content, embedding, due_date, archived_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		entry.ID, nullString(entry.LegacyID), string(entry.Category), entry.Title,
		nullString(entry.Status), nullString(string(entry.Priority)), string(contentJSON),
		embedding, nullTime(entry.DueDate), nullTime(entry.ArchivedAt),
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: entry %s", ErrAlreadyExists, entry.ID)
		}
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) CreateEntry(ctx context.Context, entry *types.Entry) error {
	return s.createEntryWithQuerier(ctx, s.db, entry)
}

func (s *SQLiteStorage) getEntryWithQuerier(ctx context.Context, q querier, id string) (*types.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE id = ?`
	return scanEntry(q.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStorage) GetEntry(ctx context.Context, id string) (*types.Entry, error) {
	return s.getEntryWithQuerier(ctx, s.db, id)
}

func (s *SQLiteStorage) getEntryByLegacyIDWithQuerier(ctx context.Context, q querier, legacyID string) (*types.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE legacy_id = ?`
	return scanEntry(q.QueryRowContext(ctx, query, legacyID))
}

func (s *SQLiteStorage) GetEntryByLegacyID(ctx context.Context, legacyID string) (*types.Entry, error) {
	return s.getEntryByLegacyIDWithQuerier(ctx, s.db, legacyID)
}

// orderClause builds the ORDER BY clause for a listing. Ties are always
// broken by id ascending so pagination is stable.
func orderClause(sortBy SortKey, desc bool) string {
	direction := "ASC"
	if desc {
		direction = "DESC"
	}

	switch sortBy {
	case SortDueDate:
		// Entries without a due date always sort last
		return fmt.Sprintf(" ORDER BY due_date IS NULL, due_date %s, id ASC", direction)
	case SortTitle:
		return fmt.Sprintf(" ORDER BY title COLLATE NOCASE %s, id ASC", direction)
	case SortUpdatedAt:
		return fmt.Sprintf(" ORDER BY updated_at %s, id ASC", direction)
	default:
		return fmt.Sprintf(" ORDER BY created_at %s, id ASC", direction)
	}
}

func (s *SQLiteStorage) listEntriesWithQuerier(ctx context.Context, q querier, filters ListFilters) ([]*types.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE archived_at IS NULL`
	args := []interface{}{}

	if filters.Category != "" {
		query += " AND category = ?"
		args = append(args, string(filters.Category))
	}
	if filters.Status != "" {
		query += " AND LOWER(status) = LOWER(?)"
		args = append(args, filters.Status)
	}
	if filters.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(filters.Priority))
	}

	// Free-text search is matched in Go, not SQL: the content column is
	// JSON and encoding escapes characters like < and &, and SQL LIKE is
	// only case-insensitive for ASCII, so a LIKE against the stored text
	// would silently drop rows the substring contract requires. All
	// candidate rows are fetched and filtered by matchesSearch.
	refine := filters.Search != ""

	query += orderClause(filters.SortBy, filters.SortDesc)

	// Pagination happens in SQL unless a refine pass is needed
	if !refine {
		if filters.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, filters.Limit)
			if filters.Offset > 0 {
				query += " OFFSET ?"
				args = append(args, filters.Offset)
			}
		} else if filters.Offset > 0 {
			query += " LIMIT -1 OFFSET ?"
			args = append(args, filters.Offset)
		}
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if refine && !matchesSearch(entry, filters.Search) {
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if refine {
		entries = paginate(entries, filters.Limit, filters.Offset)
	}

	return entries, nil
}

func (s *SQLiteStorage) ListEntries(ctx context.Context, filters ListFilters) ([]*types.Entry, error) {
	return s.listEntriesWithQuerier(ctx, s.db, filters)
}

// matchesSearch reports whether the query is a case-insensitive substring
// of the title or of any string content value.
func matchesSearch(entry *types.Entry, query string) bool {
	needle := strings.ToLower(query)
	if strings.Contains(strings.ToLower(entry.Title), needle) {
		return true
	}
	for _, leaf := range entry.Content.StringLeaves() {
		if strings.Contains(strings.ToLower(leaf), needle) {
			return true
		}
	}
	return false
}

func paginate(entries []*types.Entry, limit, offset int) []*types.Entry {
	if offset >= len(entries) {
		return nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

func (s *SQLiteStorage) updateEntryWithQuerier(ctx context.Context, q querier, entry *types.Entry) error {
	contentJSON, err := json.Marshal(entry.Content)
	if err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}

	query := `
		UPDATE entries
		SET title = ?, status = ?, priority = ?, content = ?, due_date = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := q.ExecContext(ctx, query,
		entry.Title, nullString(entry.Status), nullString(string(entry.Priority)),
		string(contentJSON), nullTime(entry.DueDate), entry.UpdatedAt, entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) UpdateEntry(ctx context.Context, entry *types.Entry) error {
	return s.updateEntryWithQuerier(ctx, s.db, entry)
}

func (s *SQLiteStorage) updateEmbeddingWithQuerier(ctx context.Context, q querier, id string, vector []float32) error {
	var embedding []byte
	if len(vector) > 0 {
		embedding = serializeVector(vector)
	}

	result, err := q.ExecContext(ctx, "UPDATE entries SET embedding = ? WHERE id = ?", embedding, id)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) UpdateEmbedding(ctx context.Context, id string, vector []float32) error {
	return s.updateEmbeddingWithQuerier(ctx, s.db, id, vector)
}

func (s *SQLiteStorage) archiveEntryWithQuerier(ctx context.Context, q querier, id string, at time.Time) error {
	result, err := q.ExecContext(ctx,
		"UPDATE entries SET archived_at = ?, updated_at = ? WHERE id = ? AND archived_at IS NULL",
		at, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to archive entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a missing row from an already-archived one
		var exists int
		err := q.QueryRowContext(ctx, "SELECT 1 FROM entries WHERE id = ?", id).Scan(&exists)
		if err == sql.ErrNoRows {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check entry: %w", err)
		}
		// Already archived: no-op
	}
	return nil
}

func (s *SQLiteStorage) ArchiveEntry(ctx context.Context, id string, at time.Time) error {
	return s.archiveEntryWithQuerier(ctx, s.db, id, at)
}

// Search scans

func (s *SQLiteStorage) ScanEmbeddings(ctx context.Context, category types.Category) ([]EntryVector, error) {
	query := "SELECT id, embedding FROM entries WHERE archived_at IS NULL"
	args := []interface{}{}
	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []EntryVector
	for rows.Next() {
		var ev EntryVector
		var blob []byte
		if err := rows.Scan(&ev.EntryID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		if len(blob) > 0 {
			ev.Vector = deserializeVector(blob)
		}
		results = append(results, ev)
	}
	return results, rows.Err()
}

func (s *SQLiteStorage) KeywordScan(ctx context.Context, query string, category types.Category, limit int) ([]*types.Entry, error) {
	filters := ListFilters{
		Category: category,
		Search:   query,
		Limit:    limit,
		SortBy:   SortUpdatedAt,
		SortDesc: true,
	}
	return s.ListEntries(ctx, filters)
}

func (s *SQLiteStorage) MissingEmbeddings(ctx context.Context, limit int) ([]*types.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE archived_at IS NULL AND embedding IS NULL
		ORDER BY updated_at ASC, id ASC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries missing embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Relation operations

func (s *SQLiteStorage) CreateRelation(ctx context.Context, rel *types.Relation) error {
	query := `
		INSERT INTO relations (id, from_id, to_id, type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, rel.ID, rel.FromID, rel.ToID, string(rel.Type), rel.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: relation %s -> %s", ErrAlreadyExists, rel.FromID, rel.ToID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint") {
			return types.ErrNotFound
		}
		return fmt.Errorf("failed to create relation: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListRelations(ctx context.Context, entryID string) ([]*types.Relation, error) {
	query := `
		SELECT id, from_id, to_id, type, created_at FROM relations
		WHERE from_id = ? OR to_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, entryID, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var relations []*types.Relation
	for rows.Next() {
		var rel types.Relation
		if err := rows.Scan(&rel.ID, &rel.FromID, &rel.ToID, &rel.Type, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}

// Inbox log operations

func (s *SQLiteStorage) AppendInbox(ctx context.Context, item *types.InboxLogEntry) error {
	query := `
		INSERT INTO inbox_log (id, raw_text, category, confidence, entry_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.RawText, string(item.Category), item.Confidence,
		nullString(item.EntryID), string(item.Status), item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append inbox log: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SetInboxStatus(ctx context.Context, id string, status types.InboxStatus) error {
	result, err := s.db.ExecContext(ctx, "UPDATE inbox_log SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set inbox status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) ListInbox(ctx context.Context, status types.InboxStatus, limit int) ([]*types.InboxLogEntry, error) {
	query := "SELECT id, raw_text, category, confidence, entry_id, status, created_at FROM inbox_log"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*types.InboxLogEntry
	for rows.Next() {
		var item types.InboxLogEntry
		var entryID sql.NullString
		if err := rows.Scan(&item.ID, &item.RawText, &item.Category, &item.Confidence, &entryID, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inbox log entry: %w", err)
		}
		item.EntryID = entryID.String
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Config operations

func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return json.RawMessage(value), nil
}

func (s *SQLiteStorage) SetConfig(ctx context.Context, key string, value json.RawMessage) error {
	query := `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, key, string(value), time.Now())
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// Status

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*types.StoreStatus, error) {
	status := &types.StoreStatus{
		EntriesByCategory: make(map[types.Category]int),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT category, COUNT(*) FROM entries WHERE archived_at IS NULL GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var category types.Category
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		status.EntriesByCategory[category] = count
		status.TotalEntries += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE archived_at IS NOT NULL")
	if err := row.Scan(&status.ArchivedEntries); err != nil {
		return nil, fmt.Errorf("failed to count archived entries: %w", err)
	}

	row = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE archived_at IS NULL AND embedding IS NULL")
	if err := row.Scan(&status.MissingEmbeddings); err != nil {
		return nil, fmt.Errorf("failed to count missing embeddings: %w", err)
	}

	row = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inbox_log WHERE status = ?", string(types.InboxNeedsReview))
	if err := row.Scan(&status.InboxNeedsReview); err != nil {
		return nil, fmt.Errorf("failed to count inbox items: %w", err)
	}

	return status, nil
}

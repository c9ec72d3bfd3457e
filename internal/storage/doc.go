// Package storage provides SQLite-based persistence for the knowledge store.
//
// The storage layer manages:
//   - Entry rows with a JSON content bag and a nullable embedding blob
//   - Explicit relations between entries
//   - The append-only inbox log
//   - A small key/value config table
//
// # Database Schema
//
// Tables:
//   - entries: typed records (category, title, status, priority, content JSON,
//     embedding blob, due/archived timestamps)
//   - relations: explicit links between entry ids, unique per (from, to, type)
//   - inbox_log: append-only capture audit trail
//   - config: key/value JSON payloads for process-wide state
//
// # Soft Deletion
//
// Entries are never hard-deleted. ArchiveEntry sets archived_at, and every
// listing and scan excludes archived rows; GetEntry still returns them so
// direct lookups of archived records keep working.
//
// # Vectors
//
// Embeddings are stored as little-endian float32 blobs in the entries table.
// Similarity ranking deserializes candidate vectors and computes cosine
// similarity in Go, which is more than fast enough for a personal store.
//
// # Transactions
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	current, _ := tx.GetEntry(ctx, id)
//	// mutate current ...
//	_ = tx.UpdateEntry(ctx, current)
//
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// # Build Tags
//
// Two driver configurations are supported:
//
// CGO build (sqlite_cgo tag), using github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
//
// Pure Go build (default), using modernc.org/sqlite:
//
//	CGO_ENABLED=0 go build ./...
package storage

package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorgan/keep/internal/embedder"
	"github.com/jmorgan/keep/internal/logger"
	"github.com/jmorgan/keep/internal/reembed"
	"github.com/jmorgan/keep/internal/relations"
	"github.com/jmorgan/keep/internal/repository"
	"github.com/jmorgan/keep/internal/searcher"
	"github.com/jmorgan/keep/internal/storage"
)

// setupServer builds a Server over in-memory storage and the local
// deterministic embedder so no network is involved.
func setupServer(t *testing.T) *Server {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal})
	require.NoError(t, err)

	log := logger.Nop()
	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion),
		storage:   store,
		repo:      repository.New(store, emb, log),
		searcher:  searcher.NewSearcher(store, emb, log),
		relations: relations.NewEngine(store, log),
		reembed:   reembed.New(store, emb, log),
		log:       log,
	}
	s.registerTools()
	return s
}

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultJSON decodes the text payload of a tool result
func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func TestNewServer(t *testing.T) {
	t.Setenv(embedder.EnvProvider, embedder.ProviderLocal)

	dbFile := filepath.Join(t.TempDir(), "store", "keep.db")
	s, err := NewServer(dbFile, logger.Nop())
	require.NoError(t, err)
	defer func() { _ = s.storage.Close() }()

	assert.NotNil(t, s.repo)
	assert.NotNil(t, s.searcher)
	assert.NotNil(t, s.relations)
	assert.NotNil(t, s.reembed)
}

func TestCreateAndGetEntry(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	result, err := s.handleCreateEntry(ctx, callTool("create_entry", map[string]interface{}{
		"category": "project",
		"title":    "Rebuild the deck",
		"content":  map[string]interface{}{"description": "south side first"},
	}))
	require.NoError(t, err)
	created := resultJSON(t, result)
	assert.Equal(t, "project", created["category"])
	assert.Equal(t, "active", created["status"])
	assert.Equal(t, true, created["embedded"])

	id := created["id"].(string)
	result, err = s.handleGetEntry(ctx, callTool("get_entry", map[string]interface{}{"id": id}))
	require.NoError(t, err)
	fetched := resultJSON(t, result)
	assert.Equal(t, "Rebuild the deck", fetched["title"])
}

func TestCreateEntryInvalidParams(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	_, err := s.handleCreateEntry(ctx, callTool("create_entry", map[string]interface{}{
		"category": "nonsense",
		"title":    "x",
	}))
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)

	_, err = s.handleCreateEntry(ctx, callTool("create_entry", map[string]interface{}{
		"category": "idea",
		"title":    "x",
		"due_date": "next tuesday",
	}))
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestGetEntryNotFound(t *testing.T) {
	s := setupServer(t)

	_, err := s.handleGetEntry(context.Background(), callTool("get_entry", map[string]interface{}{"id": "missing"}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeNotFound, mcpErr.Code)
}

func TestListEntriesTool(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second"} {
		_, err := s.handleCreateEntry(ctx, callTool("create_entry", map[string]interface{}{
			"category": "idea",
			"title":    title,
		}))
		require.NoError(t, err)
	}

	result, err := s.handleListEntries(ctx, callTool("list_entries", map[string]interface{}{
		"category": "idea",
	}))
	require.NoError(t, err)
	payload := resultJSON(t, result)
	assert.Equal(t, float64(2), payload["count"])
}

func TestUpdateAndArchiveEntry(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	result, err := s.handleCreateEntry(ctx, callTool("create_entry", map[string]interface{}{
		"category": "admin",
		"title":    "Renew insurance",
	}))
	require.NoError(t, err)
	id := resultJSON(t, result)["id"].(string)

	result, err = s.handleUpdateEntry(ctx, callTool("update_entry", map[string]interface{}{
		"id":      id,
		"status":  "done",
		"content": map[string]interface{}{"note": "called on Monday"},
	}))
	require.NoError(t, err)
	updated := resultJSON(t, result)
	assert.Equal(t, "done", updated["status"])
	content := updated["content"].(map[string]interface{})
	assert.Equal(t, "called on Monday", content["note"])

	result, err = s.handleArchiveEntry(ctx, callTool("archive_entry", map[string]interface{}{"id": id}))
	require.NoError(t, err)
	archived := resultJSON(t, result)
	assert.Contains(t, archived, "archived_at")

	// Archived entries are immutable.
	_, err = s.handleUpdateEntry(ctx, callTool("update_entry", map[string]interface{}{
		"id":     id,
		"status": "todo",
	}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeArchived, mcpErr.Code)
}

func TestSearchEntriesTool(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	_, err := s.handleCreateEntry(ctx, callTool("create_entry", map[string]interface{}{
		"category": "person",
		"title":    "Follow up with Sarah",
	}))
	require.NoError(t, err)

	result, err := s.handleSearchEntries(ctx, callTool("search_entries", map[string]interface{}{
		"query": "sarah",
	}))
	require.NoError(t, err)
	payload := resultJSON(t, result)
	assert.Equal(t, "semantic", payload["mode"])
	assert.Equal(t, float64(1), payload["count"])

	_, err = s.handleSearchEntries(ctx, callTool("search_entries", map[string]interface{}{
		"query": "x",
		"limit": float64(500),
	}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestLinkAndSuggestTools(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	makeEntry := func(title string) string {
		result, err := s.handleCreateEntry(ctx, callTool("create_entry", map[string]interface{}{
			"category": "idea",
			"title":    title,
		}))
		require.NoError(t, err)
		return resultJSON(t, result)["id"].(string)
	}
	a := makeEntry("left")
	b := makeEntry("right")

	result, err := s.handleLinkEntries(ctx, callTool("link_entries", map[string]interface{}{
		"from_id": a,
		"to_id":   b,
	}))
	require.NoError(t, err)
	rel := resultJSON(t, result)
	assert.Equal(t, "linked", rel["type"])

	_, err = s.handleLinkEntries(ctx, callTool("link_entries", map[string]interface{}{
		"from_id": a,
		"to_id":   a,
	}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)

	result, err = s.handleGetLinked(ctx, callTool("get_linked", map[string]interface{}{"id": a}))
	require.NoError(t, err)
	assert.Equal(t, float64(1), resultJSON(t, result)["count"])

	result, err = s.handleSuggestRelated(ctx, callTool("suggest_related", map[string]interface{}{
		"id":        a,
		"threshold": 0.99,
	}))
	require.NoError(t, err)
	assert.Contains(t, resultJSON(t, result), "suggestions")
}

func TestInboxTools(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	result, err := s.handleLogInbox(ctx, callTool("log_inbox", map[string]interface{}{
		"raw_text":   "book flights for October",
		"category":   "admin",
		"confidence": 0.8,
		"status":     "needs_review",
	}))
	require.NoError(t, err)
	id := resultJSON(t, result)["id"].(string)

	_, err = s.handleSetInboxStatus(ctx, callTool("set_inbox_status", map[string]interface{}{
		"id":     id,
		"status": "fixed",
	}))
	require.NoError(t, err)

	result, err = s.handleListInbox(ctx, callTool("list_inbox", map[string]interface{}{
		"status": "fixed",
	}))
	require.NoError(t, err)
	assert.Equal(t, float64(1), resultJSON(t, result)["count"])
}

func TestConfigTools(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	_, err := s.handleSetConfig(ctx, callTool("set_config", map[string]interface{}{
		"key":   "search",
		"value": map[string]interface{}{"threshold": 0.4},
	}))
	require.NoError(t, err)

	result, err := s.handleGetConfig(ctx, callTool("get_config", map[string]interface{}{"key": "search"}))
	require.NoError(t, err)
	payload := resultJSON(t, result)
	value := payload["value"].(map[string]interface{})
	assert.Equal(t, 0.4, value["threshold"])

	_, err = s.handleGetConfig(ctx, callTool("get_config", map[string]interface{}{"key": "missing"}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeNotFound, mcpErr.Code)
}

func TestReindexAndStatusTools(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	// Seed an entry without a vector by writing through storage directly.
	_, err := s.handleCreateEntry(ctx, callTool("create_entry", map[string]interface{}{
		"category": "idea",
		"title":    "embedded on create",
	}))
	require.NoError(t, err)

	result, err := s.handleReindexEmbeddings(ctx, callTool("reindex_embeddings", map[string]interface{}{}))
	require.NoError(t, err)
	payload := resultJSON(t, result)
	assert.Equal(t, float64(0), payload["scanned"], "nothing missing after create succeeded")

	result, err = s.handleGetStatus(ctx, callTool("get_status", map[string]interface{}{}))
	require.NoError(t, err)
	status := resultJSON(t, result)
	assert.Equal(t, float64(1), status["total_entries"])
	assert.Equal(t, float64(0), status["missing_embeddings"])
}

func TestResolveDBPath(t *testing.T) {
	resolved, err := resolveDBPath("/tmp/custom/keep.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom/keep.db", resolved)

	resolved, err = resolveDBPath("")
	require.NoError(t, err)
	assert.Contains(t, resolved, ".keep")
}

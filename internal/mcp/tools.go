package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jmorgan/keep/internal/reembed"
	"github.com/jmorgan/keep/internal/repository"
	"github.com/jmorgan/keep/internal/searcher"
	"github.com/jmorgan/keep/internal/storage"
	"github.com/jmorgan/keep/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound        = -32001 // No entry with the given id
	ErrorCodeArchived        = -32002 // Entry is archived and immutable
	ErrorCodeBackfillRunning = -32003 // A reindex run is already active
)

// handleCreateEntry handles the create_entry tool invocation
func (s *Server) handleCreateEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	params := repository.CreateParams{
		Category: getStringDefault(args, "category", ""),
		Title:    getStringDefault(args, "title", ""),
		Status:   getStringDefault(args, "status", ""),
		Priority: getStringDefault(args, "priority", ""),
		LegacyID: getStringDefault(args, "legacy_id", ""),
	}
	if content, ok := args["content"].(map[string]interface{}); ok {
		params.Content = types.Content(content)
	}
	if raw := getStringDefault(args, "due_date", ""); raw != "" {
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "due_date must be RFC 3339", map[string]interface{}{
				"param": "due_date",
				"value": raw,
			})
		}
		params.DueDate = &due
	}

	entry, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, toMCPError(err)
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(entryJSON(entry))), nil
}

// handleGetEntry handles the get_entry tool invocation
func (s *Server) handleGetEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return nil, err
	}

	entry, lookupErr := s.repo.Resolve(ctx, id)
	if lookupErr != nil {
		return nil, toMCPError(lookupErr)
	}
	return mcp.NewToolResultText(formatJSON(entryJSON(entry))), nil
}

// handleListEntries handles the list_entries tool invocation
func (s *Server) handleListEntries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	filters := storage.ListFilters{
		Category: types.Category(getStringDefault(args, "category", "")),
		Status:   getStringDefault(args, "status", ""),
		Priority: types.Priority(getStringDefault(args, "priority", "")),
		Search:   getStringDefault(args, "search", ""),
		SortBy:   storage.SortKey(getStringDefault(args, "sort_by", string(storage.SortCreatedAt))),
		SortDesc: getBoolDefault(args, "sort_desc", false),
		Limit:    getIntDefault(args, "limit", 50),
		Offset:   getIntDefault(args, "offset", 0),
	}

	entries, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, toMCPError(err)
	}

	items := make([]map[string]interface{}, len(entries))
	for i, entry := range entries {
		items[i] = entryJSON(entry)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"entries": items,
		"count":   len(items),
	})), nil
}

// handleUpdateEntry handles the update_entry tool invocation
func (s *Server) handleUpdateEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})

	var params repository.UpdateParams
	if title, ok := args["title"].(string); ok {
		params.Title = &title
	}
	if status, ok := args["status"].(string); ok {
		params.Status = &status
	}
	if priority, ok := args["priority"].(string); ok {
		params.Priority = &priority
	}
	if raw, ok := args["due_date"].(string); ok {
		due, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "due_date must be RFC 3339", map[string]interface{}{
				"param": "due_date",
				"value": raw,
			})
		}
		params.DueDate = &due
	}
	if content, ok := args["content"].(map[string]interface{}); ok {
		params.Content = types.Content(content)
	}

	entry, updateErr := s.repo.Update(ctx, id, params)
	if updateErr != nil {
		return nil, toMCPError(updateErr)
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(entryJSON(entry))), nil
}

// handleArchiveEntry handles the archive_entry tool invocation
func (s *Server) handleArchiveEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return nil, err
	}

	entry, archiveErr := s.repo.Archive(ctx, id)
	if archiveErr != nil {
		return nil, toMCPError(archiveErr)
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(entryJSON(entry))), nil
}

// handleRecategorizeEntry handles the recategorize_entry tool invocation
func (s *Server) handleRecategorizeEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return nil, err
	}
	category, err := requireString(request, "category")
	if err != nil {
		return nil, err
	}

	entry, recatErr := s.repo.Recategorize(ctx, id, category)
	if recatErr != nil {
		return nil, toMCPError(recatErr)
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(entryJSON(entry))), nil
}

// handleSearchEntries handles the search_entries tool invocation
func (s *Server) handleSearchEntries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := requireString(request, "query")
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, searchErr := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Category: types.Category(getStringDefault(args, "category", "")),
		Limit:    limit,
		UseCache: true,
	})
	if searchErr != nil {
		return nil, toMCPError(searchErr)
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, result := range resp.Results {
		payload := entryJSON(result.Entry)
		payload["relevance_score"] = result.RelevanceScore
		results[i] = payload
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"results":     results,
		"count":       len(results),
		"mode":        string(resp.Mode),
		"duration_ms": resp.Duration.Milliseconds(),
	})), nil
}

// handleLinkEntries handles the link_entries tool invocation
func (s *Server) handleLinkEntries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fromID, err := requireString(request, "from_id")
	if err != nil {
		return nil, err
	}
	toID, err := requireString(request, "to_id")
	if err != nil {
		return nil, err
	}

	rel, linkErr := s.relations.Link(ctx, fromID, toID, types.RelationLinked)
	if linkErr != nil {
		return nil, toMCPError(linkErr)
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":         rel.ID,
		"from_id":    rel.FromID,
		"to_id":      rel.ToID,
		"type":       string(rel.Type),
		"created_at": rel.CreatedAt.Format(time.RFC3339),
	})), nil
}

// handleGetLinked handles the get_linked tool invocation
func (s *Server) handleGetLinked(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return nil, err
	}

	linked, linkedErr := s.relations.GetLinked(ctx, id)
	if linkedErr != nil {
		return nil, toMCPError(linkedErr)
	}

	items := make([]map[string]interface{}, len(linked))
	for i, entry := range linked {
		items[i] = entryJSON(entry)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"entries": items,
		"count":   len(items),
	})), nil
}

// handleSuggestRelated handles the suggest_related tool invocation
func (s *Server) handleSuggestRelated(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})

	// -1 keeps the engine default; an explicit 0 is a real cutoff.
	threshold := getFloatDefault(args, "threshold", -1)
	limit := getIntDefault(args, "limit", 0)

	suggestions, suggestErr := s.relations.SuggestRelated(ctx, id, threshold, limit)
	if suggestErr != nil {
		return nil, toMCPError(suggestErr)
	}

	items := make([]map[string]interface{}, len(suggestions))
	for i, suggestion := range suggestions {
		payload := entryJSON(suggestion.Entry)
		payload["similarity"] = suggestion.Similarity
		items[i] = payload
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"suggestions": items,
		"count":       len(items),
	})), nil
}

// handleLogInbox handles the log_inbox tool invocation
func (s *Server) handleLogInbox(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawText, err := requireString(request, "raw_text")
	if err != nil {
		return nil, err
	}
	category, err := requireString(request, "category")
	if err != nil {
		return nil, err
	}
	status, err := requireString(request, "status")
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})

	item, logErr := s.repo.LogInbox(ctx, rawText, category,
		getFloatDefault(args, "confidence", 0),
		getStringDefault(args, "entry_id", ""),
		status)
	if logErr != nil {
		return nil, toMCPError(logErr)
	}
	return mcp.NewToolResultText(formatJSON(inboxJSON(item))), nil
}

// handleSetInboxStatus handles the set_inbox_status tool invocation
func (s *Server) handleSetInboxStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return nil, err
	}
	status, err := requireString(request, "status")
	if err != nil {
		return nil, err
	}

	if setErr := s.repo.SetInboxStatus(ctx, id, status); setErr != nil {
		return nil, toMCPError(setErr)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":     id,
		"status": status,
	})), nil
}

// handleListInbox handles the list_inbox tool invocation
func (s *Server) handleListInbox(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	items, err := s.repo.ListInbox(ctx,
		getStringDefault(args, "status", ""),
		getIntDefault(args, "limit", 50))
	if err != nil {
		return nil, toMCPError(err)
	}

	payloads := make([]map[string]interface{}, len(items))
	for i, item := range items {
		payloads[i] = inboxJSON(item)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"items": payloads,
		"count": len(payloads),
	})), nil
}

// handleGetConfig handles the get_config tool invocation
func (s *Server) handleGetConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "key")
	if err != nil {
		return nil, err
	}

	raw, getErr := s.repo.GetConfig(ctx, key)
	if getErr != nil {
		return nil, toMCPError(getErr)
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "stored config is not valid JSON", map[string]interface{}{
			"key": key,
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"key":   key,
		"value": value,
	})), nil
}

// handleSetConfig handles the set_config tool invocation
func (s *Server) handleSetConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "key")
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})
	value, ok := args["value"]
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "value parameter is required", map[string]interface{}{
			"param":  "value",
			"reason": "missing",
		})
	}

	raw, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "value is not serializable", nil)
	}
	if setErr := s.repo.SetConfig(ctx, key, raw); setErr != nil {
		return nil, toMCPError(setErr)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"key":   key,
		"saved": true,
	})), nil
}

// handleReindexEmbeddings handles the reindex_embeddings tool invocation
func (s *Server) handleReindexEmbeddings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	stats, err := s.reembed.Run(ctx, &reembed.Config{
		BatchSize: getIntDefault(args, "batch_size", 0),
	})
	if err != nil {
		return nil, toMCPError(err)
	}
	s.searcher.InvalidateCache()

	response := map[string]interface{}{
		"scanned":     stats.Scanned,
		"embedded":    stats.Embedded,
		"failed":      stats.Failed,
		"duration_ms": stats.Duration.Milliseconds(),
	}
	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.repo.Status(ctx)
	if err != nil {
		return nil, toMCPError(err)
	}

	byCategory := make(map[string]interface{}, len(status.EntriesByCategory))
	for category, count := range status.EntriesByCategory {
		byCategory[string(category)] = count
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"total_entries":       status.TotalEntries,
		"entries_by_category": byCategory,
		"archived_entries":    status.ArchivedEntries,
		"missing_embeddings":  status.MissingEmbeddings,
		"inbox_needs_review":  status.InboxNeedsReview,
	})), nil
}

// Helper functions

// entryJSON renders an entry as a response payload
func entryJSON(entry *types.Entry) map[string]interface{} {
	payload := map[string]interface{}{
		"id":         entry.ID,
		"category":   string(entry.Category),
		"title":      entry.Title,
		"status":     entry.Status,
		"content":    map[string]interface{}(entry.Content),
		"created_at": entry.CreatedAt.Format(time.RFC3339),
		"updated_at": entry.UpdatedAt.Format(time.RFC3339),
		"embedded":   entry.Embedding != nil,
	}
	if entry.LegacyID != "" {
		payload["legacy_id"] = entry.LegacyID
	}
	if entry.Priority != "" {
		payload["priority"] = string(entry.Priority)
	}
	if entry.DueDate != nil {
		payload["due_date"] = entry.DueDate.Format(time.RFC3339)
	}
	if entry.ArchivedAt != nil {
		payload["archived_at"] = entry.ArchivedAt.Format(time.RFC3339)
	}
	return payload
}

// inboxJSON renders an inbox log item as a response payload
func inboxJSON(item *types.InboxLogEntry) map[string]interface{} {
	payload := map[string]interface{}{
		"id":         item.ID,
		"raw_text":   item.RawText,
		"category":   string(item.Category),
		"confidence": item.Confidence,
		"status":     string(item.Status),
		"created_at": item.CreatedAt.Format(time.RFC3339),
	}
	if item.EntryID != "" {
		payload["entry_id"] = item.EntryID
	}
	return payload
}

// requireString extracts a required string argument
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("%s parameter is required", key), map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return value, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// toMCPError maps domain errors onto MCP error codes
func toMCPError(err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeNotFound, err.Error(), nil)
	case errors.Is(err, types.ErrEntryArchived):
		return newMCPError(ErrorCodeArchived, err.Error(), nil)
	case errors.Is(err, reembed.ErrBackfillRunning):
		return newMCPError(ErrorCodeBackfillRunning, err.Error(), nil)
	case errors.Is(err, types.ErrInvalidCategory),
		errors.Is(err, types.ErrInvalidPriority),
		errors.Is(err, types.ErrInvalidInboxStatus),
		errors.Is(err, types.ErrEmptyTitle),
		errors.Is(err, types.ErrSelfRelation):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, err.Error(), nil)
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a float parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if args == nil {
		return defaultValue
	}
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

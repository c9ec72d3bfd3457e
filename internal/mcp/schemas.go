package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var categoryEnum = []string{"person", "project", "idea", "admin", "reading"}

// createEntryTool returns the tool definition for create_entry
func createEntryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_entry",
		Description: "Create a new entry in the knowledge store",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Entry category",
					"enum":        categoryEnum,
				},
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Entry title (non-empty)",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Initial status; defaults to the category's canonical initial status",
				},
				"priority": map[string]interface{}{
					"type":        "string",
					"description": "Optional priority",
					"enum":        []string{"low", "medium", "high"},
				},
				"content": map[string]interface{}{
					"type":        "object",
					"description": "Free-form attribute bag; string values feed the embedding",
				},
				"due_date": map[string]interface{}{
					"type":        "string",
					"description": "Optional due date, RFC 3339",
				},
				"legacy_id": map[string]interface{}{
					"type":        "string",
					"description": "Optional identifier carried over from a prior system",
				},
			},
			Required: []string{"category", "title"},
		},
	}
}

// getEntryTool returns the tool definition for get_entry
func getEntryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_entry",
		Description: "Fetch a single entry by id, falling back to the legacy id when the primary lookup misses. Archived entries are returned.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Entry id or legacy id",
				},
			},
			Required: []string{"id"},
		},
	}
}

// listEntriesTool returns the tool definition for list_entries
func listEntriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_entries",
		Description: "List non-archived entries with optional filters, sorting, and pagination",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one category",
					"enum":        categoryEnum,
				},
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Case-insensitive status filter",
				},
				"priority": map[string]interface{}{
					"type":        "string",
					"description": "Priority filter",
					"enum":        []string{"low", "medium", "high"},
				},
				"search": map[string]interface{}{
					"type":        "string",
					"description": "Substring filter over title and string content values",
				},
				"sort_by": map[string]interface{}{
					"type":        "string",
					"description": "Sort column",
					"enum":        []string{"created_at", "updated_at", "due_date", "title"},
					"default":     "created_at",
				},
				"sort_desc": map[string]interface{}{
					"type":        "boolean",
					"description": "Sort descending",
					"default":     false,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of entries to return",
					"default":     50,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of entries to skip",
					"default":     0,
				},
			},
		},
	}
}

// updateEntryTool returns the tool definition for update_entry
func updateEntryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_entry",
		Description: "Update an entry's fields. Omitted fields are untouched; content is a shallow merge where supplied keys overwrite or add but never remove.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Entry id",
				},
				"title": map[string]interface{}{
					"type":        "string",
					"description": "New title",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"description": "New status",
				},
				"priority": map[string]interface{}{
					"type":        "string",
					"description": "New priority",
					"enum":        []string{"low", "medium", "high"},
				},
				"due_date": map[string]interface{}{
					"type":        "string",
					"description": "New due date, RFC 3339",
				},
				"content": map[string]interface{}{
					"type":        "object",
					"description": "Keys to merge into the content bag",
				},
			},
			Required: []string{"id"},
		},
	}
}

// archiveEntryTool returns the tool definition for archive_entry
func archiveEntryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "archive_entry",
		Description: "Soft-delete an entry. Idempotent; archived entries disappear from lists and search but remain fetchable by id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Entry id",
				},
			},
			Required: []string{"id"},
		},
	}
}

// recategorizeEntryTool returns the tool definition for recategorize_entry
func recategorizeEntryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "recategorize_entry",
		Description: "Move an entry to a different category by archiving it and creating a replacement linked through a superseded_by relation",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Entry id",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Target category",
					"enum":        categoryEnum,
				},
			},
			Required: []string{"id", "category"},
		},
	}
}

// searchEntriesTool returns the tool definition for search_entries
func searchEntriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_entries",
		Description: "Search entries by free text. Semantic ranking when the embedding provider is reachable; keyword fallback with relevance_score 0 otherwise.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one category",
					"enum":        categoryEnum,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// linkEntriesTool returns the tool definition for link_entries
func linkEntriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "link_entries",
		Description: "Create an explicit relation between two entries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"from_id": map[string]interface{}{
					"type":        "string",
					"description": "Source entry id",
				},
				"to_id": map[string]interface{}{
					"type":        "string",
					"description": "Target entry id",
				},
			},
			Required: []string{"from_id", "to_id"},
		},
	}
}

// getLinkedTool returns the tool definition for get_linked
func getLinkedTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_linked",
		Description: "List the entries explicitly linked to an entry, in either direction",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Entry id",
				},
			},
			Required: []string{"id"},
		},
	}
}

// suggestRelatedTool returns the tool definition for suggest_related
func suggestRelatedTool() mcp.Tool {
	return mcp.Tool{
		Name:        "suggest_related",
		Description: "Suggest entries similar to the given one by embedding similarity, excluding already-linked entries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Source entry id",
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum cosine similarity (0.0-1.0)",
					"default":     0.7,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of suggestions",
					"default":     5,
				},
			},
			Required: []string{"id"},
		},
	}
}

// logInboxTool returns the tool definition for log_inbox
func logInboxTool() mcp.Tool {
	return mcp.Tool{
		Name:        "log_inbox",
		Description: "Record a raw capture and its classification outcome in the inbox audit log",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"raw_text": map[string]interface{}{
					"type":        "string",
					"description": "The captured text as received",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Category the capture was classified into",
					"enum":        categoryEnum,
				},
				"confidence": map[string]interface{}{
					"type":        "number",
					"description": "Classifier confidence (0.0-1.0)",
				},
				"entry_id": map[string]interface{}{
					"type":        "string",
					"description": "Id of the entry created from the capture, if any",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Processing outcome",
					"enum":        []string{"processed", "needs_review", "fixed", "ignored"},
				},
			},
			Required: []string{"raw_text", "category", "status"},
		},
	}
}

// setInboxStatusTool returns the tool definition for set_inbox_status
func setInboxStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "set_inbox_status",
		Description: "Update the processing status of an inbox log item",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Inbox item id",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"description": "New status",
					"enum":        []string{"processed", "needs_review", "fixed", "ignored"},
				},
			},
			Required: []string{"id", "status"},
		},
	}
}

// listInboxTool returns the tool definition for list_inbox
func listInboxTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_inbox",
		Description: "List inbox log items, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one status",
					"enum":        []string{"processed", "needs_review", "fixed", "ignored"},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of items to return",
					"default":     50,
				},
			},
		},
	}
}

// getConfigTool returns the tool definition for get_config
func getConfigTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_config",
		Description: "Read a JSON configuration value by key",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"key": map[string]interface{}{
					"type":        "string",
					"description": "Config key",
				},
			},
			Required: []string{"key"},
		},
	}
}

// setConfigTool returns the tool definition for set_config
func setConfigTool() mcp.Tool {
	return mcp.Tool{
		Name:        "set_config",
		Description: "Write a JSON configuration value by key",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"key": map[string]interface{}{
					"type":        "string",
					"description": "Config key",
				},
				"value": map[string]interface{}{
					"type":        "object",
					"description": "JSON value to store",
				},
			},
			Required: []string{"key", "value"},
		},
	}
}

// reindexEmbeddingsTool returns the tool definition for reindex_embeddings
func reindexEmbeddingsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reindex_embeddings",
		Description: "Backfill embeddings for entries that have none, in rate-limited provider batches",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"batch_size": map[string]interface{}{
					"type":        "integer",
					"description": "Texts per provider call",
					"default":     50,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report store statistics: entry counts by category, archived count, entries missing embeddings, inbox items needing review",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

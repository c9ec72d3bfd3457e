package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jmorgan/keep/internal/embedder"
	"github.com/jmorgan/keep/internal/logger"
	"github.com/jmorgan/keep/internal/reembed"
	"github.com/jmorgan/keep/internal/relations"
	"github.com/jmorgan/keep/internal/repository"
	"github.com/jmorgan/keep/internal/searcher"
	"github.com/jmorgan/keep/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "keep"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultDBPath is the default location for the database
	DefaultDBPath = "~/.keep"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	storage   storage.Storage
	repo      *repository.Repository
	searcher  *searcher.Searcher
	relations *relations.Engine
	reembed   *reembed.Worker
	log       *logger.Logger
}

// NewServer creates a new MCP server instance. dbPath may be empty or
// "~/..." prefixed; both resolve under the user's home directory.
func NewServer(dbPath string, baseLog *logger.Logger) (*Server, error) {
	resolved, err := resolveDBPath(dbPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:       mcpServer,
		storage:   store,
		repo:      repository.New(store, emb, baseLog),
		searcher:  searcher.NewSearcher(store, emb, baseLog),
		relations: relations.NewEngine(store, baseLog),
		reembed:   reembed.New(store, emb, baseLog),
		log:       baseLog.With("component", "mcp"),
	}

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.storage.Close() }()
	s.log.Info("serving on stdio", "name", ServerName, "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(createEntryTool(), s.handleCreateEntry)
	s.mcp.AddTool(getEntryTool(), s.handleGetEntry)
	s.mcp.AddTool(listEntriesTool(), s.handleListEntries)
	s.mcp.AddTool(updateEntryTool(), s.handleUpdateEntry)
	s.mcp.AddTool(archiveEntryTool(), s.handleArchiveEntry)
	s.mcp.AddTool(recategorizeEntryTool(), s.handleRecategorizeEntry)
	s.mcp.AddTool(searchEntriesTool(), s.handleSearchEntries)
	s.mcp.AddTool(linkEntriesTool(), s.handleLinkEntries)
	s.mcp.AddTool(getLinkedTool(), s.handleGetLinked)
	s.mcp.AddTool(suggestRelatedTool(), s.handleSuggestRelated)
	s.mcp.AddTool(logInboxTool(), s.handleLogInbox)
	s.mcp.AddTool(setInboxStatusTool(), s.handleSetInboxStatus)
	s.mcp.AddTool(listInboxTool(), s.handleListInbox)
	s.mcp.AddTool(getConfigTool(), s.handleGetConfig)
	s.mcp.AddTool(setConfigTool(), s.handleSetConfig)
	s.mcp.AddTool(reindexEmbeddingsTool(), s.handleReindexEmbeddings)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}

// resolveDBPath expands the default or a "~/" prefixed path to an
// absolute database file path.
func resolveDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if dbPath == DefaultDBPath || len(dbPath) >= 2 && dbPath[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		if dbPath == DefaultDBPath {
			return filepath.Join(home, ".keep", "keep.db"), nil
		}
		return filepath.Join(home, dbPath[2:]), nil
	}
	return dbPath, nil
}

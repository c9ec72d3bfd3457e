package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jmorgan/keep/internal/embedder"
	"github.com/jmorgan/keep/internal/logger"
	"github.com/jmorgan/keep/internal/mcp"
	"github.com/jmorgan/keep/internal/reembed"
	"github.com/jmorgan/keep/internal/relations"
	"github.com/jmorgan/keep/internal/repository"
	"github.com/jmorgan/keep/internal/searcher"
	"github.com/jmorgan/keep/internal/storage"
	"github.com/jmorgan/keep/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	dbPath string
	debug  bool
)

func main() {
	// A .env next to the binary or in the working directory is optional.
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()
	defaultDB := filepath.Join(home, ".keep", "keep.db")

	rootCmd := &cobra.Command{
		Use:   "keep",
		Short: "Personal knowledge store with semantic search",
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "database path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(reindexCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// deps bundles the wired application components for CLI commands.
type deps struct {
	store *storage.SQLiteStorage
	repo  *repository.Repository
	srch  *searcher.Searcher
	rels  *relations.Engine
	work  *reembed.Worker
	log   *logger.Logger
}

func (d *deps) close() {
	d.log.Sync()
	_ = d.store.Close()
}

func buildDeps() (*deps, error) {
	mode := "production"
	if debug {
		mode = "development"
	}
	log, err := logger.New(mode)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &deps{
		store: store,
		repo:  repository.New(store, emb, log),
		srch:  searcher.NewSearcher(store, emb, log),
		rels:  relations.NewEngine(store, log),
		work:  reembed.New(store, emb, log),
		log:   log,
	}, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("keep %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Build Mode: %s\n", storage.BuildMode)
			fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
			fmt.Printf("Embedding Provider: %s\n", embedder.DetectProvider())
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := "production"
			if debug {
				mode = "development"
			}
			log, err := logger.New(mode)
			if err != nil {
				return err
			}
			defer log.Sync()

			server, err := mcp.NewServer(dbPath, log)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Serve(ctx)
			}()

			select {
			case sig := <-sigChan:
				log.Info("shutting down", "signal", sig.String())
				cancel()
				return nil
			case err := <-errChan:
				return err
			}
		},
	}
}

func addCmd() *cobra.Command {
	var category, status, priority, due string

	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Create a new entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			params := repository.CreateParams{
				Category: category,
				Title:    strings.Join(args, " "),
				Status:   status,
				Priority: priority,
			}
			if due != "" {
				parsed, err := time.Parse("2006-01-02", due)
				if err != nil {
					return fmt.Errorf("due date must be YYYY-MM-DD: %w", err)
				}
				params.DueDate = &parsed
			}

			entry, err := d.repo.Create(cmd.Context(), params)
			if err != nil {
				return err
			}

			fmt.Printf("Added %s entry: %s\n", entry.Category, entry.ID[:8])
			fmt.Printf("Title: %s\n", entry.Title)
			if entry.Embedding == nil {
				fmt.Println("(embedding pending; run 'keep reindex' once the provider is reachable)")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "idea", "entry category")
	cmd.Flags().StringVar(&status, "status", "", "initial status (default per category)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority: low, medium, high")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	return cmd
}

func listCmd() *cobra.Command {
	var category, status, sortBy string
	var limit int
	var desc bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			entries, err := d.repo.List(cmd.Context(), storage.ListFilters{
				Category: types.Category(category),
				Status:   status,
				SortBy:   storage.SortKey(sortBy),
				SortDesc: desc,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			for _, entry := range entries {
				printEntryLine(entry)
			}
			fmt.Printf("%d entries\n", len(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "filter by category")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&sortBy, "sort", "created_at", "sort by: created_at, updated_at, due_date, title")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries")
	return cmd
}

func searchCmd() *cobra.Command {
	var category string
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search entries semantically, with keyword fallback",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			resp, err := d.srch.Search(cmd.Context(), searcher.SearchRequest{
				Query:    strings.Join(args, " "),
				Category: types.Category(category),
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			if resp.Mode == searcher.SearchModeKeyword {
				fmt.Println("(embedding provider unavailable; keyword results, unranked)")
			}
			for _, result := range resp.Results {
				fmt.Printf("%.3f  ", result.RelevanceScore)
				printEntryLine(result.Entry)
			}
			fmt.Printf("%d results in %s\n", len(resp.Results), resp.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "filter by category")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show one entry with its linked entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			entry, err := d.repo.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("ID:       %s\n", entry.ID)
			fmt.Printf("Category: %s\n", entry.Category)
			fmt.Printf("Title:    %s\n", entry.Title)
			fmt.Printf("Status:   %s\n", entry.Status)
			if entry.Priority != "" {
				fmt.Printf("Priority: %s\n", entry.Priority)
			}
			if entry.DueDate != nil {
				fmt.Printf("Due:      %s\n", entry.DueDate.Format("2006-01-02"))
			}
			if entry.Archived() {
				fmt.Printf("Archived: %s\n", entry.ArchivedAt.Format(time.RFC3339))
			}
			for key, value := range entry.Content {
				fmt.Printf("  %s: %v\n", key, value)
			}

			linked, err := d.rels.GetLinked(cmd.Context(), entry.ID)
			if err == nil && len(linked) > 0 {
				fmt.Println("Linked:")
				for _, other := range linked {
					fmt.Printf("  %s  %s\n", other.ID[:8], other.Title)
				}
			}
			return nil
		},
	}
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive [id]",
		Short: "Archive an entry (soft delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			entry, err := d.repo.Archive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Archived: %s  %s\n", entry.ID[:8], entry.Title)
			return nil
		},
	}
}

func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link [from-id] [to-id]",
		Short: "Link two entries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			rel, err := d.rels.Link(cmd.Context(), args[0], args[1], types.RelationLinked)
			if err != nil {
				return err
			}
			fmt.Printf("Linked %s -> %s\n", rel.FromID[:8], rel.ToID[:8])
			return nil
		},
	}
}

func reindexCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Backfill embeddings for entries missing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			stats, err := d.work.Run(cmd.Context(), &reembed.Config{BatchSize: batchSize})
			if err != nil {
				return err
			}

			fmt.Printf("Scanned:  %d\n", stats.Scanned)
			fmt.Printf("Embedded: %d\n", stats.Embedded)
			fmt.Printf("Failed:   %d\n", stats.Failed)
			fmt.Printf("Duration: %s\n", stats.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "texts per provider call")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			status, err := d.repo.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Entries: %d\n", status.TotalEntries)
			for category, count := range status.EntriesByCategory {
				fmt.Printf("  %-8s %d\n", category, count)
			}
			fmt.Printf("Archived:           %d\n", status.ArchivedEntries)
			fmt.Printf("Missing embeddings: %d\n", status.MissingEmbeddings)
			fmt.Printf("Inbox needs review: %d\n", status.InboxNeedsReview)
			return nil
		},
	}
}

func printEntryLine(entry *types.Entry) {
	due := ""
	if entry.DueDate != nil {
		due = "  due " + entry.DueDate.Format("2006-01-02")
	}
	fmt.Printf("%s  [%s/%s]  %s%s\n", entry.ID[:8], entry.Category, entry.Status, entry.Title, due)
}

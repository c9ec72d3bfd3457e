package reembed

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmorgan/keep/internal/embedder"
	"github.com/jmorgan/keep/internal/logger"
	"github.com/jmorgan/keep/internal/storage"
	"github.com/jmorgan/keep/pkg/types"
)

// ErrBackfillRunning is returned when a backfill is started while
// another one holds the lock.
var ErrBackfillRunning = fmt.Errorf("embedding backfill already running")

// Worker backfills embeddings for entries that were written while the
// provider was unavailable.
type Worker struct {
	storage  storage.Storage
	embedder embedder.Embedder
	log      *logger.Logger

	lock BackfillLock

	// Writer pool size
	workers int
}

// Config contains configuration for a backfill run
type Config struct {
	BatchSize  int           // Texts per provider call (default: embedder.DefaultBatchSize)
	BatchDelay time.Duration // Pause between provider calls (default: embedder.DefaultBatchDelay)
	PageSize   int           // Entries fetched from the store per page (default: 200)
	Workers    int           // Concurrent vector writers (default: runtime.NumCPU())
}

// Statistics contains statistics about a backfill run
type Statistics struct {
	Scanned       int
	Embedded      int
	Failed        int
	Duration      time.Duration
	ErrorMessages []string
}

// New creates a new Worker instance
func New(store storage.Storage, emb embedder.Embedder, baseLog *logger.Logger) *Worker {
	return &Worker{
		storage:  store,
		embedder: emb,
		log:      baseLog.With("component", "reembed"),
		workers:  runtime.NumCPU(),
	}
}

// Run scans for entries with a null embedding and generates vectors for
// them in rate-limited provider batches. A provider failure skips the
// failing batch and moves on; the entries stay eligible for the next
// run. Only one run may be active per Worker.
func (w *Worker) Run(ctx context.Context, config *Config) (*Statistics, error) {
	if !w.lock.TryAcquire() {
		return nil, ErrBackfillRunning
	}
	defer w.lock.Release()

	if config == nil {
		config = &Config{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = embedder.DefaultBatchSize
	}
	if config.BatchDelay <= 0 {
		config.BatchDelay = embedder.DefaultBatchDelay
	}
	if config.PageSize <= 0 {
		config.PageSize = 200
	}
	if config.Workers > 0 {
		w.workers = config.Workers
	}

	startTime := time.Now()
	stats := &Statistics{
		ErrorMessages: make([]string, 0),
	}

	firstPage := true
	for {
		entries, err := w.storage.MissingEmbeddings(ctx, config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries missing embeddings: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		stats.Scanned += len(entries)

		// Pages hit the provider back to back without this pause.
		if !firstPage {
			if err := pause(ctx, config.BatchDelay); err != nil {
				return nil, err
			}
		}
		firstPage = false

		processed, err := w.backfillPage(ctx, entries, config, stats)
		if err != nil {
			return nil, err
		}
		// Nothing in the page could be embedded; stop rather than spin on
		// the same rows.
		if processed == 0 {
			break
		}
	}

	stats.Duration = time.Since(startTime)
	w.log.Info("backfill complete",
		"scanned", stats.Scanned, "embedded", stats.Embedded, "failed", stats.Failed,
		"duration", stats.Duration.String())
	return stats, nil
}

// pause sleeps for the inter-batch delay or returns early when the
// context is cancelled.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backfillPage embeds one page of entries and writes the vectors with a
// bounded writer pool. It returns how many entries got a vector.
func (w *Worker) backfillPage(ctx context.Context, entries []*types.Entry, config *Config, stats *Statistics) (int, error) {
	var embedded, failed int32
	var mu sync.Mutex // Protect stats.ErrorMessages

	g, gctx := errgroup.WithContext(ctx)
	semaphore := make(chan struct{}, w.workers)

	for start := 0; start < len(entries); start += config.BatchSize {
		end := start + config.BatchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		texts := make([]string, len(batch))
		for i, entry := range batch {
			texts[i] = entry.EmbeddingSource()
		}

		// Provider calls stay sequential with a pause between them to
		// respect rate limits; only the vector writes fan out. Each chunk
		// is its own provider call so one rejected batch does not fail
		// the rest of the page.
		if start > 0 {
			if err := pause(ctx, config.BatchDelay); err != nil {
				return 0, err
			}
		}
		embeddings, err := embedder.Batched(ctx, w.embedder, texts, config.BatchSize, 0)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			atomic.AddInt32(&failed, int32(len(batch)))
			mu.Lock()
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("batch at %d: %v", start, err))
			mu.Unlock()
			w.log.Warn("provider batch failed, entries left for next run", "size", len(batch), "error", err)
			continue
		}

		for i, entry := range batch {
			vector := embeddings[i].Vector
			entryID := entry.ID
			g.Go(func() error {
				select {
				case semaphore <- struct{}{}:
				case <-gctx.Done():
					return gctx.Err()
				}
				defer func() { <-semaphore }()

				if err := w.storage.UpdateEmbedding(gctx, entryID, vector); err != nil {
					atomic.AddInt32(&failed, 1)
					mu.Lock()
					stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", entryID, err))
					mu.Unlock()
					return nil
				}
				atomic.AddInt32(&embedded, 1)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	stats.Embedded += int(embedded)
	stats.Failed += int(failed)
	return int(embedded), nil
}

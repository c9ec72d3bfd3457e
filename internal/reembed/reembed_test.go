package reembed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorgan/keep/internal/embedder"
	"github.com/jmorgan/keep/internal/logger"
	"github.com/jmorgan/keep/internal/storage"
	"github.com/jmorgan/keep/pkg/types"
)

// batchEmbedder embeds batches with a fixed vector and can be told to
// fail every call.
type batchEmbedder struct {
	mu        sync.Mutex
	failing   bool
	calls     int
	callTimes []time.Time
}

func (b *batchEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := b.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (b *batchEmbedder) GenerateBatch(_ context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.callTimes = append(b.callTimes, time.Now())
	if b.failing {
		return nil, embedder.ErrProviderFailed
	}
	out := make([]*embedder.Embedding, len(req.Texts))
	for i := range req.Texts {
		out[i] = &embedder.Embedding{Vector: []float32{0.25, 0.75}, Dimension: 2}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out}, nil
}

func (b *batchEmbedder) Dimension() int   { return 2 }
func (b *batchEmbedder) Provider() string { return "mock" }
func (b *batchEmbedder) Model() string    { return "mock" }
func (b *batchEmbedder) Close() error     { return nil }

func setupWorker(t *testing.T, emb embedder.Embedder) (*Worker, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, emb, logger.Nop()), store
}

func seedBare(t *testing.T, store *storage.SQLiteStorage, n int) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		require.NoError(t, store.CreateEntry(context.Background(), &types.Entry{
			ID:        fmt.Sprintf("bare-%03d", i),
			Category:  types.CategoryIdea,
			Title:     fmt.Sprintf("entry %d", i),
			Status:    "new",
			Content:   types.Content{},
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			UpdatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestRunBackfillsMissingEmbeddings(t *testing.T) {
	emb := &batchEmbedder{}
	w, store := setupWorker(t, emb)
	ctx := context.Background()
	seedBare(t, store, 7)

	stats, err := w.Run(ctx, &Config{BatchSize: 3, BatchDelay: time.Millisecond, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Scanned)
	assert.Equal(t, 7, stats.Embedded)
	assert.Zero(t, stats.Failed)

	remaining, err := store.MissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	entry, err := store.GetEntry(ctx, "bare-000")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.75}, entry.Embedding)
}

func TestRunProviderDownLeavesEntriesEligible(t *testing.T) {
	emb := &batchEmbedder{failing: true}
	w, store := setupWorker(t, emb)
	ctx := context.Background()
	seedBare(t, store, 4)

	stats, err := w.Run(ctx, &Config{BatchSize: 2, BatchDelay: time.Millisecond, PageSize: 10})
	require.NoError(t, err, "provider failure is not a run failure")
	assert.Equal(t, 4, stats.Failed)
	assert.Zero(t, stats.Embedded)
	assert.NotEmpty(t, stats.ErrorMessages)

	remaining, err := store.MissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 4)
}

func TestRunPausesBetweenProviderCalls(t *testing.T) {
	emb := &batchEmbedder{}
	w, store := setupWorker(t, emb)
	ctx := context.Background()
	seedBare(t, store, 4)

	delay := 50 * time.Millisecond
	stats, err := w.Run(ctx, &Config{BatchSize: 2, BatchDelay: delay, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Embedded)

	require.Len(t, emb.callTimes, 2)
	gap := emb.callTimes[1].Sub(emb.callTimes[0])
	assert.GreaterOrEqual(t, gap, delay, "second provider call fired %v after the first", gap)
}

func TestRunNothingToDo(t *testing.T) {
	w, _ := setupWorker(t, &batchEmbedder{})
	stats, err := w.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Scanned)
}

func TestRunRejectsConcurrentBackfill(t *testing.T) {
	w, _ := setupWorker(t, &batchEmbedder{})

	require.True(t, w.lock.TryAcquire())
	_, err := w.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBackfillRunning)
	w.lock.Release()

	_, err = w.Run(context.Background(), nil)
	assert.NoError(t, err)
}

func TestBackfillLock(t *testing.T) {
	var l BackfillLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

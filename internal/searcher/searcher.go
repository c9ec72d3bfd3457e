package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jmorgan/keep/internal/embedder"
	"github.com/jmorgan/keep/internal/logger"
	"github.com/jmorgan/keep/internal/storage"
	"github.com/jmorgan/keep/pkg/types"
)

// SearchMode reports how a result set was ranked
type SearchMode string

const (
	// SearchModeSemantic ranks by cosine similarity against the query vector
	SearchModeSemantic SearchMode = "semantic"
	// SearchModeKeyword is the degraded mode used when no query vector
	// could be obtained: substring match, no meaningful ranking
	SearchModeKeyword SearchMode = "keyword"
)

// missingVectorScore ranks entries without an embedding below every
// entry that has one. Cosine similarity never goes lower than -1.
const missingVectorScore = -1.0

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Category types.Category // Optional: restrict to one category
	Limit    int
	UseCache bool
	CacheTTL time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results  []types.SearchResult
	Mode     SearchMode
	Duration time.Duration
	CacheHit bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher answers free-text queries over the entry store. It prefers
// semantic ranking and degrades to a keyword scan whenever the embedding
// provider cannot produce a query vector; only the score semantics
// distinguish the two modes for callers.
type Searcher struct {
	storage  storage.Storage
	embedder embedder.Embedder
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
	log      *logger.Logger
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Storage, emb embedder.Embedder, baseLog *logger.Logger) *Searcher {
	// Create LRU cache with 1000 entry limit
	cache, err := lru.New[[32]byte, *cacheEntry](1000)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage:  store,
		embedder: emb,
		cache:    cache,
		log:      baseLog.With("component", "searcher"),
	}
}

// Search ranks non-archived entries against the query. A result list is
// always returned when the store is reachable: embedding-provider failure
// switches the response to keyword mode instead of erroring.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	response := s.semanticSearch(ctx, req)
	if response == nil {
		var err error
		response, err = s.keywordSearch(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	response.Duration = time.Since(startTime)

	if req.UseCache {
		s.storeInCache(req, response)
	}

	return response, nil
}

// semanticSearch ranks entries by cosine similarity against the query
// vector. It returns nil when no query vector could be obtained, which
// the caller treats as the signal to fall back to keyword mode.
func (s *Searcher) semanticSearch(ctx context.Context, req SearchRequest) *SearchResponse {
	if s.embedder == nil {
		return nil
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		s.log.Warn("query embedding unavailable, falling back to keyword search", "error", err)
		return nil
	}

	vectors, err := s.storage.ScanEmbeddings(ctx, req.Category)
	if err != nil {
		s.log.Warn("embedding scan failed, falling back to keyword search", "error", err)
		return nil
	}

	ranked := make([]scoredID, 0, len(vectors))
	for _, ev := range vectors {
		score := missingVectorScore
		if ev.Vector != nil {
			score = storage.CosineSimilarity(ev.Vector, emb.Vector)
		}
		ranked = append(ranked, scoredID{id: ev.EntryID, score: score})
	}

	// Descending by score, id ascending for determinism on ties.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > req.Limit {
		ranked = ranked[:req.Limit]
	}

	results := make([]types.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		entry, err := s.storage.GetEntry(ctx, r.id)
		if err != nil {
			// Row disappeared between scan and fetch; skip it.
			continue
		}
		results = append(results, types.SearchResult{Entry: entry, RelevanceScore: r.score})
	}

	return &SearchResponse{Results: results, Mode: SearchModeSemantic}
}

// keywordSearch is the fallback mode: substring match over title and
// string content values, newest first, every score zero so callers can
// tell ranking is not meaningful.
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	entries, err := s.storage.KeywordScan(ctx, req.Query, req.Category, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	results := make([]types.SearchResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, types.SearchResult{Entry: entry, RelevanceScore: 0})
	}

	return &SearchResponse{Results: results, Mode: SearchModeKeyword}, nil
}

type scoredID struct {
	id    string
	score float64
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if req.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if req.Category != "" && !req.Category.Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidCategory, req.Category)
	}

	if req.Limit <= 0 {
		req.Limit = 10 // Default limit
	}
	if req.Limit > 100 {
		req.Limit = 100 // Max limit
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = 5 * time.Minute // Default TTL
	}

	return nil
}

// checkCache looks up cached search results, returning nil on miss or
// expiry.
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}

	// Copy while still holding the read lock so the entry isn't mutated
	// during the copy.
	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops all cached queries. Called after any entry write
// so stale rankings are never served; the cache rebuilds on demand.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// copySearchResponse creates a copy of a SearchResponse so cached data
// cannot be mutated by callers. Entry pointers are shared: entries are
// treated as immutable snapshots once returned.
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := &SearchResponse{
		Mode:     src.Mode,
		Duration: src.Duration,
		CacheHit: src.CacheHit,
		Results:  make([]types.SearchResult, len(src.Results)),
	}
	copy(dst.Results, src.Results)
	return dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Category))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d", req.Limit))
	return sha256.Sum256([]byte(data.String()))
}

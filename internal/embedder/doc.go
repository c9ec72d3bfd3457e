// Package embedder generates vector embeddings for entry text using
// pluggable providers.
//
// The embedder supports OpenAI and Jina AI over HTTP plus a deterministic
// local provider for offline use, with batching, LRU caching, input
// truncation, and retry with exponential backoff.
//
// # Basic Usage
//
//	// Create embedder (auto-detects provider from environment)
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: entry.EmbeddingSource(),
//	})
//
// # Failure Contract
//
// Callers must treat any failure (error, timeout, malformed response)
// uniformly as "no vector available". The repository and search engine
// degrade gracefully: writes proceed with a null embedding and search
// falls back to keyword matching.
//
// # Batching
//
// Providers accept up to MaxBatchSize texts per call. For larger sets use
// Batched, which splits the input and pauses between batches to respect
// provider rate limits:
//
//	embs, err := embedder.Batched(ctx, emb, texts, 50, embedder.DefaultBatchDelay)
//
// # Truncation
//
// Input text is truncated to MaxInputBytes at a rune boundary before
// submission, so oversized content bags never fail embedding outright.
//
// # Provider Selection
//
// Set KEEP_EMBEDDING_PROVIDER to one of openai, jina, or local, or rely on
// auto-detection from OPENAI_API_KEY / JINA_API_KEY. Without any key the
// local provider is used, whose vectors are deterministic but carry no
// semantic signal.
package embedder

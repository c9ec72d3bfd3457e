// Package searcher implements hybrid search over the entry store.
//
// A query is answered in one of two modes. In semantic mode the query is
// embedded and every non-archived entry is ranked by cosine similarity
// against the query vector, descending; entries without a stored vector
// are included but rank below all embedded entries. In keyword mode,
// entered whenever a query vector cannot be obtained, results come from
// a case-insensitive substring scan over titles and string content
// values, ordered by last update, and every relevance score is zero.
//
// The two modes share one result shape. Callers distinguish them only by
// score semantics, so search availability never depends on the embedding
// provider - only ranking quality does.
//
// Responses are cached in an LRU keyed by a hash of the query, category,
// and limit, with a per-request TTL. The cache must be purged via
// InvalidateCache after any entry mutation.
package searcher

package types

// SearchResult pairs an entry with its relevance in a ranked search.
//
// The result shape is identical in both search modes. When the embedding
// provider is available, RelevanceScore is the cosine similarity of the
// entry's vector to the query vector. When the engine falls back to
// keyword matching, RelevanceScore is 0 for every result, which is the
// only signal to callers that ranking is not meaningful.
type SearchResult struct {
	Entry          *Entry
	RelevanceScore float64
}

// StoreStatus summarizes the state of the knowledge store.
type StoreStatus struct {
	EntriesByCategory map[Category]int
	TotalEntries      int
	ArchivedEntries   int
	MissingEmbeddings int
	InboxNeedsReview  int
}

// Package relations manages links between entries.
//
// Two kinds of relation exist. Explicit relations are persisted rows
// created through Link and read back through GetLinked; they survive
// archival of either endpoint. Suggested relations are computed on
// demand by SuggestRelated from embedding similarity and are never
// stored, so they reflect the vectors as of the moment of the call.
package relations

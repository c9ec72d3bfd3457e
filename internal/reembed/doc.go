// Package reembed backfills missing entry embeddings.
//
// Writes never fail because the embedding provider is down; they simply
// land without a vector. The Worker repairs that lag: it pages through
// entries whose embedding column is null, rebuilds each embedding source
// from the current title and content, submits them to the provider in
// rate-limited batches, and stores the returned vectors with a bounded
// writer pool. Batches the provider rejects are skipped and stay
// eligible for the next run.
package reembed

// Package memory keeps long-term memory chunks per identity on the local
// tier, with optional sqlite-vec embeddings for semantic recall.
//
// Chunks live in the local store's memory_chunks table. When an embedding
// provider is configured, each chunk also gets a row in a vec0 table and
// Recall ranks by cosine distance; without one, Recall falls back to a
// substring match ordered by recency.
package memory

// Package store holds trace chunks received by the collector.
//
// MemoryStore keeps a bounded FIFO of chunks in memory and SQLiteStore
// persists them with the same capacity policy. Both account capacity by
// Chunk.Size and evict from the oldest end in batches of at least the
// configured delete size.
package store

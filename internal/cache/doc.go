// Package cache provides byte-oriented block caches for immutable segment
// data: decompressed column pages, parsed short-key index pages, and raw
// blocks fetched from remote blob stores.
//
// Entries are keyed by (kind, blob path, column, offset). Segment blobs are
// immutable, so cached blocks only need invalidation when a blob is
// overwritten or deleted.
package cache

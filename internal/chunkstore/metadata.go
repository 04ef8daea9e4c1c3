package chunkstore

import "time"

// Metadata is the persisted per-resource record described in spec.md
// §3 (ChunkMetadata). Invariants I1-I5 from spec.md §4.1 are maintained
// exclusively by Store.AppendChunk/Clear; callers never construct or
// mutate a Metadata value directly.
type Metadata struct {
	URL             string
	TotalBytes      int64
	DownloadedBytes int64
	ChunkCount      int
	Validator       string
	LastUpdated     time.Time
}

// Complete reports invariant I4: a resource is complete iff
// downloaded_bytes == total_bytes > 0.
func (m Metadata) Complete() bool {
	return m.TotalBytes > 0 && m.DownloadedBytes == m.TotalBytes
}

package download

import "context"

// QuotaHandler is spec.md §4.3's operator hook: called with the URL and
// the number of additional bytes the chunk store would need to accept
// the next flush when the store reports StorageFull. Returning true
// consents to continuing the download in process memory instead of
// persistent storage (spec.md's memory_fallback); false aborts the job.
type QuotaHandler func(ctx context.Context, url string, neededBytes int64) bool

// memoryFallback accumulates chunk bytes once a job has switched off
// the persistent chunk store, either because the quota was already
// exhausted when the job started or because AppendChunk hit StorageFull
// mid-download and the operator consented to continue.
type memoryFallback struct {
	active bool
	chunks [][]byte
}

func (f *memoryFallback) append(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.chunks = append(f.chunks, buf)
}

func (f *memoryFallback) size() int64 {
	var total int64
	for _, c := range f.chunks {
		total += int64(len(c))
	}
	return total
}

func (f *memoryFallback) concat() []byte {
	out := make([]byte, 0, f.size())
	for _, c := range f.chunks {
		out = append(out, c...)
	}
	return out
}

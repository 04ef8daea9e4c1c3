package chunkstore

import (
	"fmt"
	"io"
	"os"

	"github.com/scriblatex/modelfetch/internal/mferrors"
)

// chunkSequenceReader is the pull-based byte sequence spec.md §4.1
// describes: each Read pulls from the current chunk index's file,
// advancing to the next index when the current one is exhausted, and
// failing with MissingChunk(i) if a chunk in [0, expectedChunks) is
// absent. It is single-pass and restartable only by calling Stream
// again, matching the spec's explicit restriction.
type chunkSequenceReader struct {
	dir            string
	index          int
	expectedChunks int
	current        *os.File
}

func (r *chunkSequenceReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.index >= r.expectedChunks {
				return 0, io.EOF
			}
			f, err := os.Open(chunkPath(r.dir, r.index))
			if err != nil {
				if os.IsNotExist(err) {
					return 0, &mferrors.MissingChunk{Index: r.index}
				}
				return 0, fmt.Errorf("opening chunk %d: %w", r.index, err)
			}
			r.current = f
		}

		n, err := r.current.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			r.current.Close()
			r.current = nil
			r.index++
			continue
		}
		if err != nil {
			r.current.Close()
			r.current = nil
			return 0, fmt.Errorf("reading chunk %d: %w", r.index, err)
		}
	}
}

func (r *chunkSequenceReader) Close() error {
	if r.current != nil {
		return r.current.Close()
	}
	return nil
}

// Stream produces chunks 0..expectedChunks concatenated in order.
func (s *DiskStore) Stream(url string, expectedChunks int) (io.ReadCloser, error) {
	s.mu.Lock()
	unavailable := s.unavailable
	s.mu.Unlock()
	if unavailable {
		return nil, mferrors.StorageUnavailable
	}

	return &chunkSequenceReader{
		dir:            s.resourceDir(url),
		expectedChunks: expectedChunks,
	}, nil
}

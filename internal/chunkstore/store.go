// Package chunkstore implements spec.md §4.1's durable, append-only
// block store: chunks keyed by (resource id, chunk index) plus per-
// resource Metadata, with atomic append and streaming read-back.
package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/scriblatex/modelfetch/internal/mferrors"
	"github.com/scriblatex/modelfetch/internal/mflog"
)

// Store is the contract spec.md §4.1 asks for. A nil *Metadata return
// from GetMetadata with a nil error means "no metadata" — not found is
// not an error in this store.
type Store interface {
	AppendChunk(url string, data []byte, index int, totalBytes int64, validator string) error
	GetMetadata(url string) (*Metadata, error)
	Clear(url string) error
	Stream(url string, expectedChunks int) (io.ReadCloser, error)
	Prune(maxAge time.Duration) (int, error)
}

// DiskStore is a directory-backed Store: one subdirectory per resource
// (named by the sha256 of its URL, since URLs are not safe path
// components), holding chunk-%06d files and a metadata.json sidecar.
// Metadata and chunk writes are made durable with the teacher's
// write-to-temp-then-rename pattern (internal/downloaders/http's
// tempOutputPath -> os.Rename), which makes each individual file
// replacement atomic at the filesystem level.
type DiskStore struct {
	baseDir     string
	quotaBytes  int64 // 0 == unbounded
	mu          sync.Mutex
	resourceMus map[string]*sync.Mutex
	unavailable bool
}

// New creates a DiskStore rooted at baseDir with an optional quota (0
// disables quota enforcement — StorageFull is never returned).
func New(baseDir string, quotaBytes int64) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating chunk store directory: %w", err)
	}
	return &DiskStore{
		baseDir:     baseDir,
		quotaBytes:  quotaBytes,
		resourceMus: make(map[string]*sync.Mutex),
	}, nil
}

// SetUnavailable forces the store into the §4.1 "host disabled storage"
// mode: mutating calls fail with StorageUnavailable and reads report no
// metadata. Used by tests and by an operator-triggered degraded mode.
func (s *DiskStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

func resourceKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (s *DiskStore) resourceDir(url string) string {
	return filepath.Join(s.baseDir, resourceKey(url))
}

func (s *DiskStore) resourceLock(url string) *sync.Mutex {
	key := resourceKey(url)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.resourceMus[key]
	if !ok {
		m = &sync.Mutex{}
		s.resourceMus[key] = m
	}
	return m
}

func chunkPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk-%06d", index))
}

func metaPath(dir string) string {
	return filepath.Join(dir, "metadata.json")
}

// readMetadataFile returns nil, nil if the sidecar does not exist.
func readMetadataFile(dir string) (*Metadata, error) {
	data, err := os.ReadFile(metaPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// writeMetadataFile writes via temp-then-rename so a reader never
// observes a partially written metadata.json (I5).
func writeMetadataFile(dir string, m *Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := metaPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, metaPath(dir))
}

// dirSize sums the size of chunk files already on disk for quota
// accounting; metadata.json is negligible and excluded.
func dirSize(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".tmp" || e.Name() == "metadata.json" {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}

// AppendChunk implements the spec.md §4.1 algorithm: write the chunk,
// then update metadata, as a single critical section per resource so
// I1/I5 hold even under concurrent callers for different URLs (the
// scheduler already guarantees at most one in-flight writer per URL —
// spec.md §5 — this mutex is a defense-in-depth backstop, not the sole
// source of that guarantee).
func (s *DiskStore) AppendChunk(url string, data []byte, index int, totalBytes int64, validator string) error {
	log := mflog.For("chunkstore")

	s.mu.Lock()
	unavailable := s.unavailable
	s.mu.Unlock()
	if unavailable {
		return mferrors.StorageUnavailable
	}

	lock := s.resourceLock(url)
	lock.Lock()
	defer lock.Unlock()

	dir := s.resourceDir(url)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating resource directory: %w", err)
	}

	existing, err := readMetadataFile(dir)
	if err != nil {
		return fmt.Errorf("reading metadata: %w", err)
	}
	if existing != nil && existing.Validator != "" && validator != "" && existing.Validator != validator {
		return &mferrors.ValidatorChanged{Persisted: existing.Validator, Current: validator}
	}

	if s.quotaBytes > 0 {
		used := dirSize(dir)
		if used+int64(len(data)) > s.quotaBytes {
			log.Warn().Str("url", url).Int64("used", used).Int64("quota", s.quotaBytes).Msg("chunk store quota exhausted")
			return mferrors.StorageFull
		}
	}

	path := chunkPath(dir, index)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing chunk: %w", err)
	}

	meta := existing
	if meta == nil {
		meta = &Metadata{URL: url, Validator: validator}
	}
	if index+1 > meta.ChunkCount {
		meta.ChunkCount = index + 1
	}
	if totalBytes > 0 {
		meta.TotalBytes = totalBytes
	}
	meta.DownloadedBytes += int64(len(data))
	meta.LastUpdated = time.Now()
	if meta.Validator == "" {
		meta.Validator = validator
	}

	if err := writeMetadataFile(dir, meta); err != nil {
		os.Remove(path)
		return fmt.Errorf("writing metadata: %w", err)
	}

	log.Debug().Str("url", url).Int("index", index).Int64("downloaded", meta.DownloadedBytes).Msg("chunk appended")
	return nil
}

// GetMetadata returns nil, nil when no metadata exists for url, per
// spec.md §4.1.
func (s *DiskStore) GetMetadata(url string) (*Metadata, error) {
	s.mu.Lock()
	unavailable := s.unavailable
	s.mu.Unlock()
	if unavailable {
		return nil, nil
	}

	lock := s.resourceLock(url)
	lock.Lock()
	defer lock.Unlock()

	return readMetadataFile(s.resourceDir(url))
}

// Clear removes all chunks and metadata for url; idempotent.
func (s *DiskStore) Clear(url string) error {
	s.mu.Lock()
	unavailable := s.unavailable
	s.mu.Unlock()
	if unavailable {
		return mferrors.StorageUnavailable
	}

	lock := s.resourceLock(url)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.resourceDir(url)); err != nil {
		return fmt.Errorf("clearing resource: %w", err)
	}
	return nil
}

// Prune sweeps resources whose metadata hasn't been touched in over
// maxAge — the durable-storage counterpart of a crashed job that will
// never come back to finish draining its chunks. Returns the number of
// resources removed.
func (s *DiskStore) Prune(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	unavailable := s.unavailable
	s.mu.Unlock()
	if unavailable {
		return 0, mferrors.StorageUnavailable
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing chunk store: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	log := mflog.For("chunkstore")
	var pruned int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.baseDir, e.Name())
		meta, err := readMetadataFile(dir)
		if err != nil || meta == nil {
			continue
		}
		if meta.LastUpdated.After(cutoff) {
			continue
		}

		lock := s.resourceLock(meta.URL)
		lock.Lock()
		err = os.RemoveAll(dir)
		lock.Unlock()
		if err != nil {
			return pruned, fmt.Errorf("pruning %s: %w", dir, err)
		}
		log.Info().Str("url", meta.URL).Time("last_updated", meta.LastUpdated).Msg("pruned abandoned chunk store entry")
		pruned++
	}
	return pruned, nil
}

// Package contentcache implements spec.md §4.2's ContentCache: a final,
// content-addressable-by-URL store separate from the transient chunk
// table, holding completed downloads under a named cache the way the
// browser's Cache Storage API namespaces its caches.
package contentcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/scriblatex/modelfetch/internal/mflog"
)

// Entry is the sidecar record spec.md §3 calls CacheEntry: the response
// metadata a Fetch-like Get needs to reconstruct headers.
type Entry struct {
	URL           string `json:"url"`
	ContentLength int64  `json:"content_length"`
	ContentType   string `json:"content_type"`
	Checksum      string `json:"checksum,omitempty"`
}

// Cache is a single named cache (spec.md's cache_name), disk-backed,
// keyed by the sha256 of the resource URL.
type Cache struct {
	name    string
	baseDir string
	mu      sync.Mutex
}

// Open creates or opens the named cache rooted under baseDir/name.
func Open(baseDir, name string) (*Cache, error) {
	dir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating content cache directory: %w", err)
	}
	return &Cache{name: name, baseDir: dir}, nil
}

func (c *Cache) key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) bodyPath(url string) string {
	return filepath.Join(c.baseDir, c.key(url)+".body")
}

func (c *Cache) entryPath(url string) string {
	return filepath.Join(c.baseDir, c.key(url)+".json")
}

// Has reports whether url is already cached — the "cached short-circuit"
// path spec.md §8's first seed scenario exercises.
func (c *Cache) Has(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := os.Stat(c.entryPath(url))
	return err == nil
}

// Get returns the cached body and its Entry, or os.ErrNotExist wrapped
// if url has never been Put.
func (c *Cache) Get(url string) (io.ReadCloser, *Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.entryPath(url))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("cache miss for %s: %w", url, os.ErrNotExist)
		}
		return nil, nil, fmt.Errorf("reading cache entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, nil, fmt.Errorf("decoding cache entry: %w", err)
	}

	f, err := os.Open(c.bodyPath(url))
	if err != nil {
		return nil, nil, fmt.Errorf("opening cached body: %w", err)
	}
	return f, &entry, nil
}

// Put finalizes body under url with the given entry metadata, writing
// body-then-entry via temp-then-rename (grounded on the same atomicity
// pattern chunkstore.DiskStore uses) so a concurrent Get never observes
// an entry pointing at a body that hasn't landed yet.
func (c *Cache) Put(url string, body io.Reader, entry Entry) error {
	log := mflog.For("contentcache")
	c.mu.Lock()
	defer c.mu.Unlock()

	bodyTmp := c.bodyPath(url) + ".tmp"
	f, err := os.Create(bodyTmp)
	if err != nil {
		return fmt.Errorf("creating cache body: %w", err)
	}
	written, err := io.Copy(f, body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(bodyTmp)
		return fmt.Errorf("writing cache body: %w", err)
	}
	if closeErr != nil {
		os.Remove(bodyTmp)
		return fmt.Errorf("closing cache body: %w", closeErr)
	}
	if err := os.Rename(bodyTmp, c.bodyPath(url)); err != nil {
		os.Remove(bodyTmp)
		return fmt.Errorf("finalizing cache body: %w", err)
	}

	entry.URL = url
	if entry.ContentLength == 0 {
		entry.ContentLength = written
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	entryTmp := c.entryPath(url) + ".tmp"
	if err := os.WriteFile(entryTmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := os.Rename(entryTmp, c.entryPath(url)); err != nil {
		os.Remove(entryTmp)
		return fmt.Errorf("finalizing cache entry: %w", err)
	}

	log.Info().Str("url", url).Int64("bytes", written).Msg("cached completed download")
	return nil
}

// Delete removes a single cached entry; idempotent.
func (c *Cache) Delete(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.bodyPath(url)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache body: %w", err)
	}
	if err := os.Remove(c.entryPath(url)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache entry: %w", err)
	}
	return nil
}

// Stats is the supplemented ContentCache.Stats() operation SPEC_FULL.md
// adds for the "cache" CLI subcommand.
type Stats struct {
	EntryCount int
	TotalBytes int64
}

func (c *Cache) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		return Stats{}, fmt.Errorf("listing cache directory: %w", err)
	}
	var stats Stats
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(c.baseDir, e.Name()))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		stats.EntryCount++
		stats.TotalBytes += entry.ContentLength
	}
	return stats, nil
}

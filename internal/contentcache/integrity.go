package contentcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// IntegrityStatus is the SPEC_FULL.md "inspect" subcommand's result
// classification for a cached entry against an expected checksum.
type IntegrityStatus int

const (
	IntegrityOK IntegrityStatus = iota
	IntegrityMissing
	IntegritySizeMismatch
	IntegrityChecksumMismatch
)

func (s IntegrityStatus) String() string {
	switch s {
	case IntegrityOK:
		return "ok"
	case IntegrityMissing:
		return "missing"
	case IntegritySizeMismatch:
		return "size_mismatch"
	case IntegrityChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "unknown"
	}
}

// CheckIntegrity verifies a cached entry's size and, if expectedChecksum
// is non-empty, its sha256 sum, matching the field the model-hub
// download manifests carry alongside each artifact URL.
func (c *Cache) CheckIntegrity(url string, expectedSize int64, expectedChecksum string) (IntegrityStatus, error) {
	body, entry, err := c.Get(url)
	if err != nil {
		return IntegrityMissing, nil
	}
	defer body.Close()

	if expectedSize > 0 && entry.ContentLength != expectedSize {
		return IntegritySizeMismatch, nil
	}
	if expectedChecksum == "" {
		return IntegrityOK, nil
	}

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return IntegrityMissing, fmt.Errorf("hashing cached body: %w", err)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if sum != expectedChecksum {
		return IntegrityChecksumMismatch, nil
	}
	return IntegrityOK, nil
}

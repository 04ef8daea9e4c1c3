package contentcache

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	cache, err := Open(t.TempDir(), "transformers-cache")
	require.NoError(t, err)

	const url = "https://huggingface.co/bert/model.safetensors"
	require.NoError(t, cache.Put(url, strings.NewReader("weights"), Entry{ContentType: "application/octet-stream"}))

	require.True(t, cache.Has(url))

	body, entry, err := cache.Get(url)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "weights", string(data))
	require.Equal(t, int64(len("weights")), entry.ContentLength)
}

func TestGetMissReturnsNotExist(t *testing.T) {
	cache, err := Open(t.TempDir(), "transformers-cache")
	require.NoError(t, err)

	_, _, err = cache.Get("https://huggingface.co/missing")
	require.Error(t, err)
}

func TestDeleteIsIdempotent(t *testing.T) {
	cache, err := Open(t.TempDir(), "transformers-cache")
	require.NoError(t, err)

	const url = "https://huggingface.co/bert/model.safetensors"
	require.NoError(t, cache.Put(url, strings.NewReader("weights"), Entry{}))
	require.NoError(t, cache.Delete(url))
	require.NoError(t, cache.Delete(url))
	require.False(t, cache.Has(url))
}

func TestStatsCountsEntries(t *testing.T) {
	cache, err := Open(t.TempDir(), "transformers-cache")
	require.NoError(t, err)

	require.NoError(t, cache.Put("https://huggingface.co/a", strings.NewReader("12345"), Entry{}))
	require.NoError(t, cache.Put("https://huggingface.co/b", strings.NewReader("67"), Entry{}))

	stats, err := cache.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.EntryCount)
	require.Equal(t, int64(7), stats.TotalBytes)
}

func TestCheckIntegrityDetectsMismatches(t *testing.T) {
	cache, err := Open(t.TempDir(), "transformers-cache")
	require.NoError(t, err)

	const url = "https://huggingface.co/bert/model.safetensors"
	require.NoError(t, cache.Put(url, strings.NewReader("weights"), Entry{}))

	status, err := cache.CheckIntegrity(url, 0, "")
	require.NoError(t, err)
	require.Equal(t, IntegrityOK, status)

	status, err = cache.CheckIntegrity(url, 999, "")
	require.NoError(t, err)
	require.Equal(t, IntegritySizeMismatch, status)

	status, err = cache.CheckIntegrity("https://huggingface.co/missing", 0, "")
	require.NoError(t, err)
	require.Equal(t, IntegrityMissing, status)
}

package chunkstore

import (
	"io"
	"testing"
	"time"

	"github.com/scriblatex/modelfetch/internal/mferrors"
	"github.com/stretchr/testify/require"
)

func TestAppendChunkAccumulatesDownloadedBytes(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	const url = "https://example.com/model.bin"
	require.NoError(t, store.AppendChunk(url, []byte("start"), 0, 10, "etag-1"))
	require.NoError(t, store.AppendChunk(url, []byte("end!!"), 1, 10, "etag-1"))

	meta, err := store.GetMetadata(url)
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Equal(t, int64(10), meta.DownloadedBytes)
	require.Equal(t, 2, meta.ChunkCount)
	require.True(t, meta.Complete())
}

func TestAppendChunkRejectsValidatorMismatch(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	const url = "https://example.com/model.bin"
	require.NoError(t, store.AppendChunk(url, []byte("start"), 0, 10, "etag-1"))
	err = store.AppendChunk(url, []byte("end!!"), 1, 10, "etag-2")
	require.Error(t, err)
	var mismatch *mferrors.ValidatorChanged
	require.ErrorAs(t, err, &mismatch)
}

func TestAppendChunkQuotaExhaustion(t *testing.T) {
	store, err := New(t.TempDir(), 8)
	require.NoError(t, err)

	const url = "https://example.com/model.bin"
	require.NoError(t, store.AppendChunk(url, []byte("abc"), 0, 20, ""))
	err = store.AppendChunk(url, []byte("defghijk"), 1, 20, "")
	require.ErrorIs(t, err, mferrors.StorageFull)

	// First chunk remains intact — a failed append leaves metadata and
	// chunk table untouched (spec.md §4.1 step "if any step fails the
	// transaction aborts").
	meta, err := store.GetMetadata(url)
	require.NoError(t, err)
	require.Equal(t, int64(3), meta.DownloadedBytes)
	require.Equal(t, 1, meta.ChunkCount)
}

func TestStreamConcatenatesInOrder(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	const url = "https://example.com/model.bin"
	require.NoError(t, store.AppendChunk(url, []byte("foo"), 0, 6, ""))
	require.NoError(t, store.AppendChunk(url, []byte("bar"), 1, 6, ""))

	r, err := store.Stream(url, 2)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "foobar", string(data))
}

func TestStreamMissingChunk(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	const url = "https://example.com/model.bin"
	require.NoError(t, store.AppendChunk(url, []byte("foo"), 0, 6, ""))

	r, err := store.Stream(url, 2)
	require.NoError(t, err)
	defer r.Close()

	_, err = io.ReadAll(r)
	require.Error(t, err)
	var missing *mferrors.MissingChunk
	require.ErrorAs(t, err, &missing)
	require.Equal(t, 1, missing.Index)
}

func TestClearIsIdempotent(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	const url = "https://example.com/model.bin"
	require.NoError(t, store.AppendChunk(url, []byte("foo"), 0, 3, ""))
	require.NoError(t, store.Clear(url))
	require.NoError(t, store.Clear(url))

	meta, err := store.GetMetadata(url)
	require.NoError(t, err)
	require.Nil(t, meta)
}

func TestPruneLeavesRecentResourcesAlone(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, store.AppendChunk("https://example.com/model.bin", []byte("foo"), 0, 3, ""))

	pruned, err := store.Prune(time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, pruned)

	meta, err := store.GetMetadata("https://example.com/model.bin")
	require.NoError(t, err)
	require.NotNil(t, meta)
}

func TestPruneRemovesStaleResources(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, store.AppendChunk("https://example.com/model.bin", []byte("foo"), 0, 3, ""))

	// A negative maxAge pushes the cutoff into the future, so any
	// already-written LastUpdated counts as stale without needing a
	// fake clock.
	pruned, err := store.Prune(-time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	meta, err := store.GetMetadata("https://example.com/model.bin")
	require.NoError(t, err)
	require.Nil(t, meta)
}

func TestUnavailableForcesMemoryOnly(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	store.SetUnavailable(true)

	err = store.AppendChunk("https://example.com/a", []byte("x"), 0, 1, "")
	require.ErrorIs(t, err, mferrors.StorageUnavailable)

	meta, err := store.GetMetadata("https://example.com/a")
	require.NoError(t, err)
	require.Nil(t, meta)
}

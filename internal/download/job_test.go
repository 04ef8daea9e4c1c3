package download

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scriblatex/modelfetch/internal/chunkstore"
	"github.com/scriblatex/modelfetch/internal/contentcache"
	"github.com/scriblatex/modelfetch/internal/httpclient"
)

func newTestDeps(t *testing.T, flushWindow int64) (Deps, *chunkstore.DiskStore, *contentcache.Cache) {
	t.Helper()
	store, err := chunkstore.New(t.TempDir(), 0)
	require.NoError(t, err)
	cache, err := contentcache.Open(t.TempDir(), "transformers-cache")
	require.NoError(t, err)
	return Deps{
		Client:      httpclient.New(httpclient.Config{}),
		Store:       store,
		Cache:       cache,
		FlushWindow: flushWindow,
	}, store, cache
}

func TestJobFreshDownloadPopulatesCache(t *testing.T) {
	const body = "the quick brown fox jumps over the lazy dog"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Write([]byte(body))
	}))
	defer server.Close()

	deps, _, cache := newTestDeps(t, 8)
	job := New(server.URL)
	require.NoError(t, job.Run(context.Background(), deps))
	require.Equal(t, StatusCompleted, job.Status())

	r, _, err := cache.Get(server.URL)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, body, string(data))
}

func TestJobCacheHitNeverHitsNetwork(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("fresh"))
	}))
	defer server.Close()

	deps, _, cache := newTestDeps(t, 64)
	require.NoError(t, cache.Put(server.URL, strings.NewReader("cached"), contentcache.Entry{}))

	job := New(server.URL)
	require.NoError(t, job.Run(context.Background(), deps))
	require.Equal(t, StatusCompleted, job.Status())
	require.False(t, called)
}

func TestJobResumesPartialDownload(t *testing.T) {
	const full = "0123456789abcdefghij"
	var sawRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRange = r.Header.Get("Range")
		w.Header().Set("ETag", `"v1"`)
		if sawRange != "" {
			w.Header().Set("Content-Range", "bytes 10-19/20")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte(full[10:]))
			return
		}
		w.Write([]byte(full))
	}))
	defer server.Close()

	deps, store, cache := newTestDeps(t, 4)
	require.NoError(t, store.AppendChunk(server.URL, []byte(full[:10]), 0, 20, `"v1"`))

	job := New(server.URL)
	require.NoError(t, job.Run(context.Background(), deps))
	require.Equal(t, StatusCompleted, job.Status())
	require.Equal(t, "bytes=10-", sawRange)

	r, _, err := cache.Get(server.URL)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, full, string(data))
}

func TestJobRestartsWhenServerIgnoresRange(t *testing.T) {
	const full = "abcdefghijklmnopqrst"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Server always answers 200 with the full body regardless of Range.
		w.Write([]byte(full))
	}))
	defer server.Close()

	deps, store, cache := newTestDeps(t, 4)
	require.NoError(t, store.AppendChunk(server.URL, []byte(full[:5]), 0, 20, ""))

	job := New(server.URL)
	require.NoError(t, job.Run(context.Background(), deps))
	require.Equal(t, StatusCompleted, job.Status())

	r, _, err := cache.Get(server.URL)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, full, string(data))
}

func TestJobCompletedViaRangeNotSatisfiable(t *testing.T) {
	const full = "hello world"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes */11")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer server.Close()

	deps, store, cache := newTestDeps(t, 4)
	require.NoError(t, store.AppendChunk(server.URL, []byte(full), 0, int64(len(full)), ""))

	job := New(server.URL)
	require.NoError(t, job.Run(context.Background(), deps))
	require.Equal(t, StatusCompleted, job.Status())

	r, _, err := cache.Get(server.URL)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, full, string(data))
}

func TestJobRestartsWhenRangeNotSatisfiableDoesNotMatchStoredSize(t *testing.T) {
	// The chunk store already holds more bytes than the server's 416
	// says the resource actually is (Content-Range: */5) — the stored
	// progress can't be trusted as "complete", so the job must clear
	// and restart from zero instead of finalizing the stale entry.
	const full = "0123456789"
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Content-Range", "bytes */5")
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(full))
	}))
	defer server.Close()

	deps, store, cache := newTestDeps(t, 4)
	require.NoError(t, store.AppendChunk(server.URL, []byte("stale-21-bytes-worth."), 0, 100, ""))

	job := New(server.URL)
	require.NoError(t, job.Run(context.Background(), deps))
	require.Equal(t, StatusCompleted, job.Status())
	require.Equal(t, 2, requests)

	r, _, err := cache.Get(server.URL)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, full, string(data))
}

func TestJobQuotaFallbackSwitchesToMemory(t *testing.T) {
	const full = "0123456789abcdefghijklmnopqrstuvwxyz"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(full))
	}))
	defer server.Close()

	store, err := chunkstore.New(t.TempDir(), 6)
	require.NoError(t, err)
	cache, err := contentcache.Open(t.TempDir(), "transformers-cache")
	require.NoError(t, err)

	consented := false
	deps := Deps{
		Client:      httpclient.New(httpclient.Config{}),
		Store:       store,
		Cache:       cache,
		FlushWindow: 6,
		QuotaHandler: func(ctx context.Context, url string, needed int64) bool {
			consented = true
			return true
		},
	}

	job := New(server.URL)
	require.NoError(t, job.Run(context.Background(), deps))
	require.True(t, consented)
	require.Equal(t, StatusCompleted, job.Status())

	r, _, err := cache.Get(server.URL)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, full, string(data))
}

func TestJobRunsMemoryOnlyWhenStoreUnavailable(t *testing.T) {
	const full = "the store is disabled but the job must still succeed"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(full))
	}))
	defer server.Close()

	store, err := chunkstore.New(t.TempDir(), 0)
	require.NoError(t, err)
	store.SetUnavailable(true)
	cache, err := contentcache.Open(t.TempDir(), "transformers-cache")
	require.NoError(t, err)

	deps := Deps{
		Client:      httpclient.New(httpclient.Config{}),
		Store:       store,
		Cache:       cache,
		FlushWindow: 8,
	}

	job := New(server.URL)
	require.NoError(t, job.Run(context.Background(), deps))
	require.Equal(t, StatusCompleted, job.Status())

	r, _, err := cache.Get(server.URL)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, full, string(data))
}

package scheduler

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scriblatex/modelfetch/internal/chunkstore"
	"github.com/scriblatex/modelfetch/internal/contentcache"
	"github.com/scriblatex/modelfetch/internal/download"
	"github.com/scriblatex/modelfetch/internal/httpclient"
	"github.com/scriblatex/modelfetch/internal/mferrors"
)

func newTestScheduler(t *testing.T, maxConcurrent int) *Scheduler {
	t.Helper()
	store, err := chunkstore.New(t.TempDir(), 0)
	require.NoError(t, err)
	cache, err := contentcache.Open(t.TempDir(), "transformers-cache")
	require.NoError(t, err)
	deps := download.Deps{
		Client:      httpclient.New(httpclient.Config{}),
		Store:       store,
		Cache:       cache,
		FlushWindow: 1 << 20,
	}
	return New(deps, maxConcurrent)
}

func TestAcquireDeduplicatesConcurrentCallers(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("weights"))
	}))
	defer server.Close()

	sched := newTestScheduler(t, 2)
	ch1 := sched.Acquire(server.URL)
	ch2 := sched.Acquire(server.URL)

	r1 := <-ch1
	r2 := <-ch2
	require.NoError(t, r1.Err)
	require.NoError(t, r2.Err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestAcquireRespectsMaxConcurrent(t *testing.T) {
	var inFlight, maxSeen int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	sched := newTestScheduler(t, 2)
	channels := make([]<-chan Result, 0, 5)
	for i := 0; i < 5; i++ {
		channels = append(channels, sched.Acquire(server.URL+"/"+string(rune('a'+i))))
	}
	for _, ch := range channels {
		r := <-ch
		require.NoError(t, r.Err)
	}
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 2)
}

func TestCancelStopsRunningJobAndResolvesCancelled(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.Write([]byte("first-chunk"))
		if flusher != nil {
			flusher.Flush()
		}
		close(started)
		<-block
		w.Write([]byte("second-chunk"))
	}))
	defer server.Close()

	sched := newTestScheduler(t, 1)
	ch := sched.Acquire(server.URL)
	<-started

	sched.Cancel(server.URL)
	res := <-ch
	require.ErrorIs(t, res.Err, mferrors.Cancelled)
	close(block)
}

func TestSnapshotReportsInFlightJobs(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.Write([]byte("weights"))
	}))
	defer server.Close()

	sched := newTestScheduler(t, 1)
	ch := sched.Acquire(server.URL)

	require.Eventually(t, func() bool {
		return len(sched.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	close(block)
	<-ch
}

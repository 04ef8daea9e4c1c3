// Package scheduler implements spec.md §4.4's DownloadScheduler: a
// process-wide FIFO admission queue bounded by MAX_CONCURRENT, with
// per-URL deduplication so N callers requesting the same resource share
// one in-flight Job and are all notified when it resolves. Grounded on
// the teacher's worker-pool shape (internal/scheduler/scheduler.go) but
// driven by real download.Job.Run calls instead of the teacher's
// commented-out downloader registry.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/scriblatex/modelfetch/internal/contentcache"
	"github.com/scriblatex/modelfetch/internal/download"
	"github.com/scriblatex/modelfetch/internal/mferrors"
	"github.com/scriblatex/modelfetch/internal/mflog"
)

// Result is delivered to every subscriber of an Acquire call once the
// underlying job resolves.
type Result struct {
	Err error
}

// JobSnapshot is the supplemented Scheduler.Snapshot() read model
// SPEC_FULL.md adds; the fetch/batch live display polls it for progress.
type JobSnapshot struct {
	URL    string
	Status download.Status
	Loaded int64
	Total  int64
	Speed  int64
}

type inflightJob struct {
	job             *download.Job
	cancel          context.CancelFunc // nil until the job is actually admitted to run
	cancelRequested bool
	subscribers     []chan Result
}

// Scheduler is the single process-wide admission point for acquisitions.
// Construct one per process and share it; it is safe for concurrent use.
type Scheduler struct {
	mu            sync.Mutex
	deps          download.Deps
	maxConcurrent int
	active        int
	queue         []string
	inflight      map[string]*inflightJob
}

// New builds a Scheduler bounded by maxConcurrent simultaneous jobs,
// sharing deps (client, chunk store, content cache, quota handler)
// across every acquisition it admits.
func New(deps download.Deps, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		deps:          deps,
		maxConcurrent: maxConcurrent,
		inflight:      make(map[string]*inflightJob),
	}
}

// Acquire requests url, deduplicating against any in-flight job for the
// same URL (spec.md §4.4's broadcast resolution). The returned channel
// receives exactly one Result and is then closed.
func (s *Scheduler) Acquire(url string) <-chan Result {
	ch := make(chan Result, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.inflight[url]; ok {
		existing.subscribers = append(existing.subscribers, ch)
		return ch
	}

	entry := &inflightJob{
		job:         download.New(url),
		subscribers: []chan Result{ch},
	}
	s.inflight[url] = entry

	if s.active < s.maxConcurrent {
		s.active++
		ctx, cancel := context.WithCancel(context.Background())
		entry.cancel = cancel
		go s.run(ctx, url, entry)
	} else {
		s.queue = append(s.queue, url)
	}
	return ch
}

func (s *Scheduler) run(ctx context.Context, url string, entry *inflightJob) {
	log := mflog.For("scheduler")
	err := entry.job.Run(ctx, s.deps)
	if err != nil {
		log.Error().Str("url", url).Err(err).Msg("acquisition failed")
	}

	s.mu.Lock()
	delete(s.inflight, url)
	subscribers := entry.subscribers
	s.active--
	next := s.admitNextLocked()
	s.mu.Unlock()

	for _, sub := range subscribers {
		sub <- Result{Err: err}
		close(sub)
	}

	if next != nil {
		if next.cancelled {
			s.resolveCancelled(next.url, next.entry)
		} else {
			go s.run(next.ctx, next.url, next.entry)
		}
	}
}

// resolveCancelled broadcasts mferrors.Cancelled to a queued job's
// subscribers without ever starting it, and re-triggers admission for
// whatever is next in line.
func (s *Scheduler) resolveCancelled(url string, entry *inflightJob) {
	s.mu.Lock()
	delete(s.inflight, url)
	s.active--
	next := s.admitNextLocked()
	s.mu.Unlock()

	for _, sub := range entry.subscribers {
		sub <- Result{Err: mferrors.Cancelled}
		close(sub)
	}
	if next != nil {
		if next.cancelled {
			s.resolveCancelled(next.url, next.entry)
		} else {
			go s.run(next.ctx, next.url, next.entry)
		}
	}
}

type admission struct {
	ctx       context.Context
	url       string
	entry     *inflightJob
	cancelled bool
}

// admitNextLocked pops the FIFO head and starts its own job context; the
// caller must hold s.mu.
func (s *Scheduler) admitNextLocked() *admission {
	for len(s.queue) > 0 {
		url := s.queue[0]
		s.queue = s.queue[1:]
		entry, ok := s.inflight[url]
		if !ok {
			// Deleted/cancelled before it was admitted.
			continue
		}
		s.active++
		if entry.cancelRequested {
			return &admission{url: url, entry: entry, cancelled: true}
		}
		ctx, cancel := context.WithCancel(context.Background())
		entry.cancel = cancel
		return &admission{ctx: ctx, url: url, entry: entry}
	}
	return nil
}

// Cancel aborts an in-flight or queued acquisition for url, if any. A
// queued job that hasn't started yet is resolved with a cancellation
// error the next time it would have been admitted, rather than ever
// issuing a request.
func (s *Scheduler) Cancel(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.inflight[url]
	if !ok {
		return
	}
	if entry.cancel != nil {
		entry.cancel()
		return
	}
	entry.cancelRequested = true
}

// SetQuotaHandler installs the operator hook consulted whenever the
// chunk store reports StorageFull, per spec.md §4.3.
func (s *Scheduler) SetQuotaHandler(handler download.QuotaHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps.QuotaHandler = handler
}

// CheckIntegrity delegates to the content cache's checksum verification.
func (s *Scheduler) CheckIntegrity(url string, expectedSize int64, expectedChecksum string) (contentcache.IntegrityStatus, error) {
	return s.deps.Cache.CheckIntegrity(url, expectedSize, expectedChecksum)
}

// Delete removes both the chunk store entry and the cached entry for
// url, the SPEC_FULL.md "clean" operation's building block.
func (s *Scheduler) Delete(url string) error {
	if err := s.deps.Cache.Delete(url); err != nil {
		return err
	}
	return s.deps.Store.Clear(url)
}

// CacheStats reports the content cache's current size, for the "cache"
// CLI subcommand.
func (s *Scheduler) CacheStats() (contentcache.Stats, error) {
	return s.deps.Cache.Stats()
}

// PruneStale sweeps chunk store resources abandoned for longer than
// maxAge, for the "clean --stale" CLI subcommand. Resources are chosen
// by metadata age alone: an in-flight acquisition whose last chunk
// write is older than maxAge is removed like any other entry, since the
// per-resource lock is held only for the duration of a single store
// call.
func (s *Scheduler) PruneStale(maxAge time.Duration) (int, error) {
	return s.deps.Store.Prune(maxAge)
}

// Snapshot reports every currently admitted or queued job.
func (s *Scheduler) Snapshot() []JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := make([]JobSnapshot, 0, len(s.inflight))
	for url, entry := range s.inflight {
		loaded, total, speed := entry.job.Progress()
		snapshots = append(snapshots, JobSnapshot{
			URL:    url,
			Status: entry.job.Status(),
			Loaded: loaded,
			Total:  total,
			Speed:  speed,
		})
	}
	return snapshots
}

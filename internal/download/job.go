package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/scriblatex/modelfetch/internal/chunkstore"
	"github.com/scriblatex/modelfetch/internal/contentcache"
	"github.com/scriblatex/modelfetch/internal/httpclient"
	"github.com/scriblatex/modelfetch/internal/mferrors"
	"github.com/scriblatex/modelfetch/internal/mflog"
)

// Status is spec.md §3's DownloadJob.status: exactly the five states
// the spec names (Pending is called Queued here, Errored is Failed).
// There is deliberately no separate "cancelled" status — a cooperative
// abort lands the job in Paused, the same as any other stopped-but-
// resumable job; Cancelled is the error a caller's Acquire resolves
// with, not a status Job.Status() ever reports.
type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job drives a single URL's acquisition through the chunk store to the
// content cache (spec.md §4.3). A Job is single-use: construct a fresh
// one per acquisition attempt, the way the teacher constructs a fresh
// utils.DanzoJob per invocation.
type Job struct {
	ID  string
	URL string

	mu             sync.Mutex
	status         Status
	loaded         int64
	total          int64
	speed          int64
	memoryFallback *memoryFallback
}

// New allocates a job with a fresh ID (grounded on the teacher's use of
// google/uuid for job identity across its scheduler and output manager).
func New(url string) *Job {
	return &Job{
		ID:     uuid.NewString(),
		URL:    url,
		status: StatusQueued,
	}
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// Progress reports the job's current (loaded, total, speed) byte
// counts, spec.md §3's progress:{loaded, total, speed}.
func (j *Job) Progress() (int64, int64, int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.loaded, j.total, j.speed
}

func (j *Job) setProgress(loaded, total, speed int64) {
	j.mu.Lock()
	j.loaded = loaded
	if total > 0 {
		j.total = total
	}
	j.speed = speed
	j.mu.Unlock()
}

// Deps bundles the collaborators a Job needs to run, so Run's signature
// doesn't grow every time a new tier is wired in.
type Deps struct {
	Client       *httpclient.Client
	Store        chunkstore.Store
	Cache        *contentcache.Cache
	Mirror       *contentcache.Mirror
	QuotaHandler QuotaHandler
	FlushWindow  int64
	OnProgress   ProgressFunc
}

// Run executes spec.md §4.3's full control flow: cache short-circuit,
// resumption check, ranged request, outcome classification, streamed
// persistence with quota fallback, and cache finalization.
func (j *Job) Run(ctx context.Context, deps Deps) error {
	log := mflog.For("download").With().Str("url", j.URL).Logger()
	j.setStatus(StatusRunning)

	if deps.Cache.Has(j.URL) {
		log.Debug().Msg("serving from content cache, no network request issued")
		j.setStatus(StatusCompleted)
		return nil
	}

	if deps.Mirror != nil {
		hit, err := j.tryMirror(ctx, deps)
		if err != nil {
			log.Warn().Err(err).Msg("mirror lookup failed, falling back to origin")
		} else if hit {
			j.setStatus(StatusCompleted)
			return nil
		}
	}

	meta, err := deps.Store.GetMetadata(j.URL)
	if err != nil {
		j.setStatus(StatusFailed)
		return fmt.Errorf("reading chunk store metadata: %w", err)
	}

	var resumeOffset int64
	var persistedValidator string
	nextChunkIndex := 0
	if meta != nil {
		resumeOffset = meta.DownloadedBytes
		persistedValidator = meta.Validator
		nextChunkIndex = meta.ChunkCount
		j.setProgress(resumeOffset, meta.TotalBytes, 0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.URL, nil)
	if err != nil {
		j.setStatus(StatusFailed)
		return fmt.Errorf("building request: %w", err)
	}
	if resumeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
	}

	resp, err := deps.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			j.setStatus(StatusPaused)
			return mferrors.Cancelled
		}
		j.setStatus(StatusFailed)
		return &mferrors.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	totalSize, haveTotalSize := parseContentRangeTotal(resp.Header.Get("Content-Range"))
	outcome := classify(resp.StatusCode, resumeOffset, persistedValidator, resp.Header.Get("ETag"), totalSize, haveTotalSize)
	log.Debug().Str("outcome", outcome.String()).Msg("classified response")

	switch {
	case outcome.IsComplete():
		if err := j.finalizeFromStore(ctx, deps, meta.ChunkCount); err != nil {
			return err
		}
		j.pushToMirror(ctx, deps)
		return nil

	case outcome.IsError():
		j.setStatus(StatusFailed)
		if ve, ok := asValidatorChanged(outcome); ok {
			return ve
		}
		return &mferrors.HTTPError{Status: resp.StatusCode}

	case outcome.IsRestart():
		// Server ignored the range, or a 416 did not confirm the stored
		// bytes as the whole resource: the teacher's simple-downloader.go
		// truncates and restarts in this situation rather than trying to
		// reconcile bytes it can no longer trust.
		if err := deps.Store.Clear(j.URL); err != nil && err != mferrors.StorageUnavailable {
			j.setStatus(StatusFailed)
			return fmt.Errorf("clearing stale chunk store entry: %w", err)
		}
		resumeOffset = 0
		nextChunkIndex = 0
		j.setProgress(0, 0, 0)
		if outcome.kind == outcomeRestartFrom416 {
			// A 416 has no body to stream: re-issue the request once,
			// without a Range header, and stream that response instead.
			resp.Body.Close()
			req.Header.Del("Range")
			if resp, err = deps.Client.Do(req); err != nil {
				j.setStatus(StatusFailed)
				return &mferrors.NetworkError{Err: err}
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				j.setStatus(StatusFailed)
				return &mferrors.HTTPError{Status: resp.StatusCode}
			}
		}
		fallthrough

	default: // outcomeStart, outcomeResumed206, and the restart case above
		return j.streamResponse(ctx, deps, resp, resumeOffset, nextChunkIndex)
	}
}

// tryMirror consults the optional S3-compatible mirror tier before the
// job ever reaches the origin host, the way a fleet of edge nodes can
// share one already-fetched copy of a model. Returns false, nil on a
// clean miss so Run falls through to the normal resumable path.
func (j *Job) tryMirror(ctx context.Context, deps Deps) (bool, error) {
	has, err := deps.Mirror.Has(ctx, j.URL)
	if err != nil || !has {
		return false, err
	}

	tmp, err := os.CreateTemp("", "modelfetch-mirror-*")
	if err != nil {
		return false, fmt.Errorf("staging mirror download: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := deps.Mirror.Fetch(ctx, j.URL, tmp); err != nil {
		return false, err
	}
	info, err := tmp.Stat()
	if err != nil {
		return false, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	if err := deps.Cache.Put(j.URL, tmp, contentcache.Entry{ContentLength: info.Size()}); err != nil {
		return false, fmt.Errorf("caching mirror download: %w", err)
	}
	return true, nil
}

// pushToMirror uploads a just-finalized cache entry to the mirror tier,
// best effort: a failure here never fails the acquisition, since the
// local cache entry is already durable.
func (j *Job) pushToMirror(ctx context.Context, deps Deps) {
	if deps.Mirror == nil {
		return
	}
	log := mflog.For("download").With().Str("url", j.URL).Logger()
	body, _, err := deps.Cache.Get(j.URL)
	if err != nil {
		log.Warn().Err(err).Msg("could not reopen cache entry for mirror push")
		return
	}
	defer body.Close()
	if err := deps.Mirror.Upload(ctx, j.URL, body); err != nil {
		log.Warn().Err(err).Msg("mirror push failed")
	}
}

func asValidatorChanged(o Outcome) (*mferrors.ValidatorChanged, bool) {
	if o.kind != outcomeValidatorChanged {
		return nil, false
	}
	return &mferrors.ValidatorChanged{Persisted: o.persistedID, Current: o.currentID}, true
}

// streamResponse pulls resp.Body in flush-window-sized buffers, handing
// each full buffer to the chunk store as a new chunk, falling back to
// process memory if the store reports StorageFull and the operator
// consents. Grounded on the teacher's downloadAttempt buffered-copy loop
// (simple-downloader.go), generalized from a single append-only file to
// append-only chunk store writes.
func (j *Job) streamResponse(ctx context.Context, deps Deps, resp *http.Response, startOffset int64, chunkIndex int) error {
	log := mflog.For("download").With().Str("url", j.URL).Logger()

	totalBytes := startOffset + resp.ContentLength
	if resp.ContentLength <= 0 {
		totalBytes = 0
	}
	validator := resp.Header.Get("ETag")

	flushWindow := deps.FlushWindow
	if flushWindow <= 0 {
		flushWindow = 5 << 20
	}

	tracker := newProgressTracker(totalBytes, func(loaded, total, speed int64) {
		j.setProgress(startOffset+loaded, total, speed)
		if deps.OnProgress != nil {
			deps.OnProgress(startOffset+loaded, total, speed)
		}
	})
	defer tracker.Close()

	loaded := startOffset
	buf := &bytes.Buffer{}
	readBuf := make([]byte, 32*1024)
	fallback := j.currentFallback()

	flush := func(final bool) error {
		if buf.Len() == 0 {
			return nil
		}
		data := buf.Bytes()
		if fallback != nil && fallback.active {
			fallback.append(data)
		} else {
			err := deps.Store.AppendChunk(j.URL, data, chunkIndex, totalBytes, validator)
			switch {
			case err == mferrors.StorageFull:
				if deps.QuotaHandler == nil || !deps.QuotaHandler(ctx, j.URL, int64(len(data))) {
					return mferrors.StorageFull
				}
				drained, drainErr := j.drainStoreToMemory(deps, chunkIndex)
				if drainErr != nil {
					return drainErr
				}
				fallback = drained
				j.setFallback(fallback)
				fallback.append(data)
				log.Warn().Msg("chunk store exhausted, continuing acquisition in process memory")
			case err == mferrors.StorageUnavailable:
				// Run's GetMetadata already came back empty in this
				// case, so nothing was ever persisted for this URL:
				// start memory-only from this chunk rather than fail
				// the acquisition outright.
				fallback = &memoryFallback{active: true}
				j.setFallback(fallback)
				fallback.append(data)
				log.Warn().Msg("chunk store unavailable, continuing acquisition in process memory")
			case err != nil:
				return err
			}
		}
		chunkIndex++
		buf.Reset()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			// A cooperative abort leaves the job resumable, not errored:
			// the in-flight partial buffer is simply dropped since it
			// was never flushed, so ChunkStore stays consistent. The
			// caller's Acquire still resolves with Cancelled; Paused is
			// this job's own internal resting state, matching the
			// distinction spec.md draws between the two.
			j.setStatus(StatusPaused)
			return mferrors.Cancelled
		default:
		}

		n, readErr := resp.Body.Read(readBuf)
		if n > 0 {
			buf.Write(readBuf[:n])
			loaded += int64(n)
			tracker.Add(int64(n))
			if int64(buf.Len()) >= flushWindow {
				if err := flush(false); err != nil {
					j.setStatus(StatusFailed)
					return err
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if ctx.Err() != nil {
				// The usual way cancellation actually reaches us: ctx
				// was canceled while Read was blocked on the network,
				// so the transport aborted the request and Read
				// returned ctx's own error rather than letting the
				// select above ever see it.
				j.setStatus(StatusPaused)
				return mferrors.Cancelled
			}
			j.setStatus(StatusFailed)
			return &mferrors.NetworkError{Err: readErr}
		}
	}
	if err := flush(true); err != nil {
		j.setStatus(StatusFailed)
		return err
	}

	if fallback != nil && fallback.active {
		if err := deps.Cache.Put(j.URL, bytes.NewReader(fallback.concat()), contentcache.Entry{
			ContentLength: loaded,
			ContentType:   resp.Header.Get("Content-Type"),
		}); err != nil {
			j.setStatus(StatusFailed)
			return err
		}
		j.setStatus(StatusCompleted)
		j.pushToMirror(ctx, deps)
		return nil
	}
	if err := j.finalizeFromStore(ctx, deps, chunkIndex); err != nil {
		return err
	}
	j.pushToMirror(ctx, deps)
	return nil
}

// finalizeFromStore streams expectedChunks back out of the chunk store
// into the content cache and clears the transient store entry, the same
// temp-file-then-rename-flavored finalize the teacher's simple download
// does when it renames its .part file into place.
func (j *Job) finalizeFromStore(ctx context.Context, deps Deps, expectedChunks int) error {
	r, err := deps.Store.Stream(j.URL, expectedChunks)
	if err != nil {
		j.setStatus(StatusFailed)
		return fmt.Errorf("reading back chunk store for finalize: %w", err)
	}
	defer r.Close()

	meta, err := deps.Store.GetMetadata(j.URL)
	if err != nil {
		j.setStatus(StatusFailed)
		return fmt.Errorf("reading metadata for finalize: %w", err)
	}
	var contentLength int64
	if meta != nil {
		contentLength = meta.TotalBytes
	}

	if err := deps.Cache.Put(j.URL, r, contentcache.Entry{ContentLength: contentLength}); err != nil {
		j.setStatus(StatusFailed)
		return fmt.Errorf("finalizing into content cache: %w", err)
	}
	if err := deps.Store.Clear(j.URL); err != nil && err != mferrors.StorageUnavailable {
		log := mflog.For("download")
		log.Warn().Err(err).Str("url", j.URL).Msg("failed to clear chunk store after finalize")
	}

	j.setStatus(StatusCompleted)
	return nil
}

// drainStoreToMemory implements spec.md §4.3's quota-fallback sequence:
// read back everything already persisted for this resource, then clear
// the store entry so the now-stale disk copy cannot be confused with
// the in-memory continuation.
func (j *Job) drainStoreToMemory(deps Deps, chunksSoFar int) (*memoryFallback, error) {
	r, err := deps.Store.Stream(j.URL, chunksSoFar)
	if err != nil {
		return nil, fmt.Errorf("draining chunk store to memory: %w", err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("reading drained chunks: %w", err)
	}
	if err := deps.Store.Clear(j.URL); err != nil && err != mferrors.StorageUnavailable {
		return nil, fmt.Errorf("clearing chunk store after drain: %w", err)
	}
	fb := &memoryFallback{active: true}
	if len(data) > 0 {
		fb.append(data)
	}
	return fb, nil
}

func (j *Job) currentFallback() *memoryFallback {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.memoryFallback
}

func (j *Job) setFallback(f *memoryFallback) {
	j.mu.Lock()
	j.memoryFallback = f
	j.mu.Unlock()
}

// Package download implements spec.md §4.3's DownloadJob: the control
// flow that decides, for a single URL, whether to resume, restart, or
// serve from cache, and that streams the ranged response into the
// chunk store.
package download

import (
	"fmt"
	"strconv"
	"strings"
)

// Outcome is the tagged variant spec.md §9 requires: the ranged-request
// response is classified into exactly one of these before a single byte
// of body is streamed, so the caller never has to guess what a status
// code meant after the fact.
type Outcome struct {
	kind        outcomeKind
	httpStatus  int
	knownSize   int64
	persistedID string
	currentID   string
}

type outcomeKind int

const (
	outcomeStart           outcomeKind = iota // no prior metadata, 200 from offset 0
	outcomeResumed206                         // ranged GET honored, 206 from the resume offset
	outcomeResumedReset200                    // ranged GET sent, server answered 200 (ignored the range)
	outcomeCompleted416                       // ranged GET from an offset equal to the full size
	outcomeRestartFrom416                     // 416 whose size is absent or differs from the offset — must restart from 0
	outcomeValidatorChanged                   // persisted validator no longer matches the server's
	outcomeHTTPError                          // any other non-2xx/416 status
)

func StartOutcome() Outcome                { return Outcome{kind: outcomeStart} }
func Resumed206Outcome() Outcome           { return Outcome{kind: outcomeResumed206} }
func ResumedReset200Outcome() Outcome      { return Outcome{kind: outcomeResumedReset200} }
func Completed416Outcome(size int64) Outcome {
	return Outcome{kind: outcomeCompleted416, knownSize: size}
}
func RestartFrom416Outcome() Outcome { return Outcome{kind: outcomeRestartFrom416} }
func ValidatorChangedOutcome(persisted, current string) Outcome {
	return Outcome{kind: outcomeValidatorChanged, persistedID: persisted, currentID: current}
}
func HTTPErrorOutcome(status int) Outcome {
	return Outcome{kind: outcomeHTTPError, httpStatus: status}
}

func (o Outcome) String() string {
	switch o.kind {
	case outcomeStart:
		return "start"
	case outcomeResumed206:
		return "resumed_206"
	case outcomeResumedReset200:
		return "resumed_reset_200"
	case outcomeCompleted416:
		return "completed_416"
	case outcomeRestartFrom416:
		return "restart_from_416"
	case outcomeValidatorChanged:
		return fmt.Sprintf("validator_changed(%s->%s)", o.persistedID, o.currentID)
	case outcomeHTTPError:
		return fmt.Sprintf("http_error(%d)", o.httpStatus)
	default:
		return "unknown"
	}
}

func (o Outcome) IsComplete() bool       { return o.kind == outcomeCompleted416 }
func (o Outcome) IsRestart() bool        { return o.kind == outcomeResumedReset200 || o.kind == outcomeRestartFrom416 }
func (o Outcome) IsError() bool {
	return o.kind == outcomeValidatorChanged || o.kind == outcomeHTTPError
}
func (o Outcome) KnownSize() int64 { return o.knownSize }

// parseContentRangeTotal extracts N from a "Content-Range: bytes */N"
// header, the form a 416 response uses to report the resource's actual
// size. Returns ok == false if the header is absent or malformed, so
// the caller can't be tricked into treating an unparseable header as a
// known size.
func parseContentRangeTotal(header string) (int64, bool) {
	const prefix = "bytes */"
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(header[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// classify implements spec.md §4.3 step 2-3's decision table: given the
// response to a ranged (or initial) GET and whatever metadata was
// already on disk for this resource, produce exactly one Outcome. On a
// 416, totalSize/haveTotalSize carry the server's own "bytes */N"
// answer — the resource only counts as already-complete if
// resumeOffset equals N; a store holding fewer or more bytes than N,
// or an unparseable or absent Content-Range, means we can't confirm
// completion, so we restart rather than risk serving a short or stale
// read as if it were the whole file.
func classify(status int, resumeOffset int64, persistedValidator, responseValidator string, totalSize int64, haveTotalSize bool) Outcome {
	if persistedValidator != "" && responseValidator != "" && persistedValidator != responseValidator {
		return ValidatorChangedOutcome(persistedValidator, responseValidator)
	}

	switch status {
	case 200:
		if resumeOffset > 0 {
			return ResumedReset200Outcome()
		}
		return StartOutcome()
	case 206:
		return Resumed206Outcome()
	case 416:
		if haveTotalSize && resumeOffset == totalSize {
			return Completed416Outcome(totalSize)
		}
		return RestartFrom416Outcome()
	default:
		return HTTPErrorOutcome(status)
	}
}

package indexer

import (
	"errors"

	"github.com/charmbracelet/log"
)

var (
	// ErrRunInProgress is returned when a bulk operation is requested while
	// another one is active.
	ErrRunInProgress = errors.New("an indexing run is already in progress")

	// ErrNotReady is returned when the context expires before initialization
	// has finished.
	ErrNotReady = errors.New("index engine is not ready")
)

// Progress is reported during an indexing run.
type Progress struct {
	Indexed int    // Documents attempted so far, including failures
	Total   int    // Candidates in this run
	Errors  int    // Per-document failures so far
	Paused  bool   // Run is waiting for Resume
	Current string // Path being indexed
}

// ProgressFunc receives progress updates. It runs on the indexing goroutine
// and must return quickly.
type ProgressFunc func(Progress)

// NoticeKind classifies user-facing notices.
type NoticeKind string

const (
	NoticeUpToDate            NoticeKind = "up-to-date"
	NoticeCompleted           NoticeKind = "completed"
	NoticeCompletedWithErrors NoticeKind = "completed-with-errors"
	NoticeCancelled           NoticeKind = "cancelled"
	NoticeRateLimited         NoticeKind = "rate-limited"
	NoticeUnavailable         NoticeKind = "unavailable"
	NoticeRebuild             NoticeKind = "rebuild"
	NoticeProviderError       NoticeKind = "provider-error"
	NoticeSaveFailed          NoticeKind = "save-failed"
)

// Warning reports whether the notice describes a problem.
func (k NoticeKind) Warning() bool {
	switch k {
	case NoticeRateLimited, NoticeProviderError, NoticeUnavailable, NoticeCompletedWithErrors, NoticeSaveFailed:
		return true
	}
	return false
}

// Notice is a user-facing message about the outcome of an operation.
type Notice struct {
	Kind    NoticeKind
	Message string
	Count   int      // Documents concerned, when meaningful
	Errors  []string // Per-document failures for completed-with-errors
}

// NoticeFunc receives notices.
type NoticeFunc func(Notice)

const rateLimitMessage = "The embedding provider is rate limiting requests. Indexing stopped; " +
	"lower embeddings.requests_per_second or wait before running the index again."

// notify logs n and hands it to the notice handler. With a handler set the
// log line drops to debug level; the handler is responsible for display.
func (e *Engine) notify(n Notice) {
	switch {
	case e.onNotice != nil:
		log.Debug(n.Message, "kind", n.Kind, "count", n.Count)
		e.onNotice(n)
	case n.Kind.Warning():
		log.Warn(n.Message, "kind", n.Kind, "count", n.Count)
	default:
		log.Info(n.Message, "kind", n.Kind, "count", n.Count)
	}
}

func (e *Engine) progress(p Progress) {
	if e.onProgress != nil {
		e.onProgress(p)
	}
}

package downloader

import (
	"errors"
	"fmt"
	"time"

	gulphttp "github.com/ligustah/gulp/internal/http"
)

// Session-level errors.
var (
	// ErrSizeUnknown is returned when the size probe yields no usable
	// length indicator. Without a total size there is nothing to plan.
	ErrSizeUnknown = errors.New("downloader: cannot determine total download size")

	// ErrInvalidChunkSize is returned by Plan for a chunk size below 1.
	ErrInvalidChunkSize = errors.New("downloader: chunk size must be at least 1")

	// ErrRangeNotSupported mirrors the HTTP layer's sentinel so callers
	// can classify against either package.
	ErrRangeNotSupported = gulphttp.ErrRangeNotSupported
)

// TruncatedError is returned when a chunk's body ends short of the
// requested range length.
type TruncatedError struct {
	Range Range
	Got   int64
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("downloader: truncated chunk %s: got %d of %d bytes",
		e.Range, e.Got, e.Range.Len())
}

// TimeoutError is returned when a single chunk fetch exceeds the per-task
// timeout. It is a task failure like any other: no retry, session aborts.
type TimeoutError struct {
	Range   Range
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("downloader: chunk %s timed out after %s", e.Range, e.Timeout)
}

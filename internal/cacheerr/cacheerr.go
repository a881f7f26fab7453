// Package cacheerr defines the error kinds shared across LFC, PCF and CHC
// (spec §7): MalformedSidecar, HashCollision, HttpError, IoError,
// EmptyCache and Cancelled. Call sites propagate by wrapping with %w so
// errors.Is against these sentinels/types keeps working through the stack.
package cacheerr

import (
	"errors"
	"fmt"
)

// ErrMalformedSidecar: sidecar header fails to parse or the stored URL
// does not match the requested one. Recovered by reopening from origin
// (PCF.accrue) or returning a nil headers (get_cached_response_headers).
var ErrMalformedSidecar = errors.New("cacheerr: malformed sidecar")

// ErrHashCollision: two distinct URLs folded to the same 64-bit key.
// Fatal for the operation in progress; the caller must evict the entry.
var ErrHashCollision = errors.New("cacheerr: url hash collision")

// ErrEmptyCache: a download claimed success but produced a zero-length
// data file.
var ErrEmptyCache = errors.New("cacheerr: empty cache file after download")

// ErrCancelled: cooperative cancellation via close(); PCF readers observe
// a short stream rather than this error, but other call sites that need
// an explicit value use it.
var ErrCancelled = errors.New("cacheerr: cancelled")

// HTTPError wraps a non-2xx response or network failure encountered while
// downloading. Status is 0 for transport-level failures (no response).
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("cacheerr: http request failed: %s", e.Message)
	}
	return fmt.Sprintf("cacheerr: http status %d: %s", e.Status, e.Message)
}

// NewHTTPError builds an HTTPError for a response with the given status.
func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

// IOError wraps a filesystem failure, naming the operation and path for
// diagnostics while still allowing errors.Is(err, cacheerr.ErrIO).
type IOError struct {
	Op   string
	Path string
	Err  error
}

var ErrIO = errors.New("cacheerr: io error")

func (e *IOError) Error() string {
	return fmt.Sprintf("cacheerr: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{ErrIO, e.Err} }

// NewIOError wraps err (nil-safe: returns nil if err is nil).
func NewIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

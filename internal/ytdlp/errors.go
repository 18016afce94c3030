// SPDX-License-Identifier: MIT

package ytdlp

import (
	"errors"
	"fmt"
)

// ErrTooManyRequests marks an upstream HTTP 429 so callers can log the
// block distinctly; the retry budget handles the backoff.
var ErrTooManyRequests = errors.New("ytdlp: too many requests")

// ErrNoEntries indicates a fetch returned no usable items.
var ErrNoEntries = errors.New("ytdlp: no entries in output")

// APIError reports a failed yt-dlp invocation.
type APIError struct {
	URL    string
	Stderr string
	Err    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ytdlp: fetch %s: %v", e.URL, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// DataError reports output that could not be decoded.
type DataError struct {
	URL string
	Err error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("ytdlp: decode output for %s: %v", e.URL, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// FieldError reports a metadata entry missing or carrying an unusable
// required field.
type FieldError struct {
	ID    string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ytdlp: entry %s field %s: %v", e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("ytdlp: entry %s missing field %s", e.ID, e.Field)
}

func (e *FieldError) Unwrap() error { return e.Err }

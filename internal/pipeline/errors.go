// SPDX-License-Identifier: MIT

package pipeline

import "fmt"

// EnqueueError aborts the whole pipeline run for a feed: without a
// complete enumeration the sync watermark must not advance.
type EnqueueError struct {
	FeedID string
	Err    error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue feed %q: %v", e.FeedID, e.Err)
}

func (e *EnqueueError) Unwrap() error { return e.Err }

// SPDX-License-Identifier: MIT

package schedule

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning reports a manual trigger for a feed that already has
// a pending or in-flight run.
var ErrAlreadyRunning = errors.New("feed run already in flight")

// SchedulerError wraps a per-feed scheduling failure.
type SchedulerError struct {
	FeedID string
	Err    error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("schedule feed %q: %v", e.FeedID, e.Err)
}

func (e *SchedulerError) Unwrap() error { return e.Err }

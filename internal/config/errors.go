// SPDX-License-Identifier: MIT

package config

import "fmt"

// LoadError reports a configuration parse or validation failure. Fatal
// at startup; on hot reload the previous configuration stays active.
type LoadError struct {
	Path   string
	FeedID string
	Err    error
}

func (e *LoadError) Error() string {
	if e.FeedID != "" {
		return fmt.Sprintf("config: %s feed %q: %v", e.Path, e.FeedID, e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

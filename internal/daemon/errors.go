// SPDX-License-Identifier: MIT

package daemon

import (
	"errors"
	"fmt"
)

// Process exit codes for startup failures. Each startup stage gets its
// own code so container orchestrators can tell a bad config apart from
// a missing binary.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitConfig       = 2
	ExitEnvironment  = 3
	ExitDependencies = 4
	ExitStorage      = 5
)

var (
	// ErrMissingHandler is returned when a manager is built without
	// both routers.
	ErrMissingHandler = errors.New("public and admin handlers are required")

	// ErrManagerNotStarted is returned when Shutdown is called before
	// Start.
	ErrManagerNotStarted = errors.New("manager not started")
)

// StartupError marks a fatal failure during daemon assembly, carrying
// the process exit code for that stage.
type StartupError struct {
	Stage string
	Code  int
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

func startupErr(stage string, code int, err error) *StartupError {
	return &StartupError{Stage: stage, Code: code, Err: err}
}

// ExitCode maps an error from New or Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var se *StartupError
	if errors.As(err, &se) {
		return se.Code
	}
	return ExitFailure
}

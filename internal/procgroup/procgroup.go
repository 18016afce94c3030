// SPDX-License-Identifier: MIT

// Package procgroup manages subprocess trees. Fetcher and probe binaries
// spawn their own children (yt-dlp forks ffmpeg for muxing); killing only
// the direct child would orphan them. Every subprocess the daemon starts
// runs in its own process group so cancellation reaps the whole tree:
// SIGTERM, a grace period, then SIGKILL.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

// DefaultGrace is the window between SIGTERM and SIGKILL.
const DefaultGrace = 5 * time.Second

// ErrKillFailed indicates the process group survived SIGKILL.
var ErrKillFailed = errors.New("procgroup: kill operation failed")

// Set configures the command to start in a new process group.
// Mandatory for Terminate to act as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate gracefully stops a running command's process group. It sends
// SIGTERM, waits for the exit (via waitCh, which must deliver the result
// of cmd.Wait), and escalates to SIGKILL after grace. The error from
// waitCh is consumed and returned. Safe on nil or never-started commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGrace
	}

	_ = signalGroup(cmd, sigTerm)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	_ = signalGroup(cmd, sigKill)

	// Drain waitCh regardless; SIGKILL frees a blocked Wait.
	return <-waitCh
}

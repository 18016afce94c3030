// SPDX-License-Identifier: MIT

//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
)

type signal = os.Signal

var (
	sigTerm = os.Interrupt
	sigKill = os.Kill
)

func set(cmd *exec.Cmd) {
	// Best effort: no process groups on this platform.
}

func signalGroup(cmd *exec.Cmd, sig signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(sig)
}

// SPDX-License-Identifier: MIT

// Package ytdlp wraps the yt-dlp binary: source discovery, playlist
// enumeration, per-item metadata, media and transcript download, and
// rate-limited self-update. One handler per upstream host adapts the
// fetch behavior (YouTube, Patreon, Twitter, generic).
package ytdlp

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/procgroup"
)

const stderrTailBytes = 4096

// runner executes yt-dlp invocations in their own process group.
type runner struct {
	bin    string
	logger zerolog.Logger
}

func newRunner(bin string) *runner {
	return &runner{bin: bin, logger: log.WithComponent("ytdlp")}
}

// run executes yt-dlp and returns stdout plus the stderr tail. Context
// cancellation terminates the whole subprocess tree (SIGTERM, grace,
// SIGKILL). An upstream 429 surfaces as ErrTooManyRequests.
func (r *runner) run(ctx context.Context, url string, args []string) ([]byte, string, error) {
	cmd := exec.Command(r.bin, args...)
	procgroup.Set(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().Str("url", url).Strs("args", args).Msg("invoking yt-dlp")

	if err := cmd.Start(); err != nil {
		return nil, "", &APIError{URL: url, Err: err}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitCh:
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, procgroup.DefaultGrace)
		err = ctx.Err()
	}

	errTail := tailBytes(stderr.Bytes())
	if err != nil {
		if strings.Contains(errTail, "HTTP Error 429") || strings.Contains(stdout.String(), "HTTP Error 429") {
			return stdout.Bytes(), errTail, &APIError{URL: url, Stderr: errTail, Err: ErrTooManyRequests}
		}
		return stdout.Bytes(), errTail, &APIError{URL: url, Stderr: errTail, Err: err}
	}
	return stdout.Bytes(), errTail, nil
}

func tailBytes(b []byte) string {
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	return string(b)
}

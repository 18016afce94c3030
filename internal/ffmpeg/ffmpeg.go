// SPDX-License-Identifier: MIT

// Package ffmpeg wraps the ffprobe and ffmpeg binaries for the two jobs
// the pipeline needs: probing media duration (local files and, for hosts
// that omit duration metadata, remote URLs) and normalizing thumbnails
// to JPG.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"

	"github.com/thurstonsan/anypod/internal/procgroup"
)

// ProbeError reports an ffprobe failure.
type ProbeError struct {
	Target string
	Stderr string
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("ffprobe %s: %v", e.Target, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ConvertError reports an ffmpeg conversion failure.
type ConvertError struct {
	Src    string
	Stderr string
	Err    error
}

func (e *ConvertError) Error() string {
	return fmt.Sprintf("ffmpeg convert %s: %v", e.Src, e.Err)
}

func (e *ConvertError) Unwrap() error { return e.Err }

// Runner executes the probe and convert binaries.
type Runner struct {
	ffprobePath string
	ffmpegPath  string
}

// NewRunner locates ffprobe and ffmpeg on PATH.
func NewRunner() (*Runner, error) {
	probe, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe binary not found: %w", err)
	}
	mpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}
	return &Runner{ffprobePath: probe, ffmpegPath: mpeg}, nil
}

// NewRunnerWithPaths builds a Runner over explicit binary paths (tests).
func NewRunnerWithPaths(ffprobePath, ffmpegPath string) *Runner {
	return &Runner{ffprobePath: ffprobePath, ffmpegPath: ffmpegPath}
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeOutput struct {
	Format  probeFormat `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// ProbeDuration returns the duration of a local media file in whole
// seconds (rounded up so a 0.4 s clip still reports one second).
func (r *Runner) ProbeDuration(ctx context.Context, path string) (int64, error) {
	return r.probe(ctx, path, nil)
}

// ProbeDurationURL probes a remote media URL. Some hosts (Patreon audio
// CDNs) refuse requests without the referer of the hosting page.
func (r *Runner) ProbeDurationURL(ctx context.Context, url, referer string) (int64, error) {
	var headerArgs []string
	if referer != "" {
		headerArgs = []string{"-headers", "Referer: " + referer + "\r\n"}
	}
	return r.probe(ctx, url, headerArgs)
}

func (r *Runner) probe(ctx context.Context, target string, extraArgs []string) (int64, error) {
	args := append([]string{}, extraArgs...)
	args = append(args,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		target,
	)

	out, stderr, err := r.run(ctx, r.ffprobePath, args)
	if err != nil {
		return 0, &ProbeError{Target: target, Stderr: stderr, Err: err}
	}

	var data probeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return 0, &ProbeError{Target: target, Stderr: stderr, Err: fmt.Errorf("decode: %w", err)}
	}

	if d, ok := parseDuration(data.Format.Duration); ok {
		return d, nil
	}
	for _, s := range data.Streams {
		if s.CodecType != "audio" && s.CodecType != "video" {
			continue
		}
		if d, ok := parseDuration(s.Duration); ok {
			return d, nil
		}
	}
	return 0, &ProbeError{Target: target, Stderr: stderr, Err: fmt.Errorf("no duration in probe output")}
}

func parseDuration(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int64(math.Ceil(f)), true
}

// ConvertToJPG transcodes an image to JPG. Used to normalize WebP and
// PNG thumbnails so podcast clients get a format they all understand.
func (r *Runner) ConvertToJPG(ctx context.Context, src, dst string) error {
	args := []string{
		"-v", "error",
		"-y",
		"-i", src,
		"-frames:v", "1",
		"-q:v", "2",
		dst,
	}
	if _, stderr, err := r.run(ctx, r.ffmpegPath, args); err != nil {
		return &ConvertError{Src: src, Stderr: stderr, Err: err}
	}
	return nil
}

// run executes the binary in its own process group and reaps the whole
// tree on context cancellation.
func (r *Runner) run(ctx context.Context, bin string, args []string) ([]byte, string, error) {
	cmd := exec.Command(bin, args...)
	procgroup.Set(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, "", err
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		if err != nil {
			return stdout.Bytes(), tail(stderr.Bytes()), err
		}
		return stdout.Bytes(), tail(stderr.Bytes()), nil
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, procgroup.DefaultGrace)
		return stdout.Bytes(), tail(stderr.Bytes()), ctx.Err()
	}
}

const stderrTailBytes = 4096

func tail(b []byte) string {
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	return string(b)
}

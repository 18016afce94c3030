// SPDX-License-Identifier: MIT

// Package fsstore implements the file store for media, images, and
// generated feed documents. Writes are atomic (pending file + rename),
// every path is confined to the data root, and nothing outside the root
// is ever touched.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// FileError wraps a filesystem failure with the operation and path.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("fsstore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// ErrOutsideRoot marks a path that does not resolve under the data root.
var ErrOutsideRoot = errors.New("path escapes data root")

// Store performs file operations confined to a single root directory.
type Store struct {
	root string
}

// New returns a Store rooted at dataDir. The directory is created if
// missing so the confinement check always has a real root to resolve.
func New(dataDir string) (*Store, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, &FileError{Op: "resolve root", Path: dataDir, Err: err}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &FileError{Op: "create root", Path: abs, Err: err}
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Store{root: abs}, nil
}

// Root returns the resolved data root.
func (s *Store) Root() string {
	return s.root
}

// Write streams r into path atomically: content lands in a pending
// temporary file first and only an explicit rename publishes it under the
// final name. Readers never observe a partial file. Returns bytes written.
func (s *Store) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	confined, err := s.confine(path)
	if err != nil {
		return 0, &FileError{Op: "write", Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(confined), 0o755); err != nil {
		return 0, &FileError{Op: "write", Path: confined, Err: err}
	}

	pending, err := renameio.NewPendingFile(confined)
	if err != nil {
		return 0, &FileError{Op: "write", Path: confined, Err: err}
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	n, err := copyCtx(ctx, pending, r)
	if err != nil {
		return n, &FileError{Op: "write", Path: confined, Err: err}
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, &FileError{Op: "write", Path: confined, Err: err}
	}
	return n, nil
}

// Publish moves a finished temporary file to its final name. Both paths
// must live under the root and on the same volume; the rename is atomic.
func (s *Store) Publish(ctx context.Context, tmpPath, finalPath string) error {
	if err := ctx.Err(); err != nil {
		return &FileError{Op: "publish", Path: finalPath, Err: err}
	}
	src, err := s.confine(tmpPath)
	if err != nil {
		return &FileError{Op: "publish", Path: tmpPath, Err: err}
	}
	dst, err := s.confine(finalPath)
	if err != nil {
		return &FileError{Op: "publish", Path: finalPath, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &FileError{Op: "publish", Path: dst, Err: err}
	}

	// Stage under the .incomplete suffix next to the destination so the
	// final rename happens within one directory.
	incomplete := dst + ".incomplete"
	if err := os.Rename(src, incomplete); err != nil {
		return &FileError{Op: "publish", Path: dst, Err: err}
	}
	if err := os.Rename(incomplete, dst); err != nil {
		_ = os.Remove(incomplete)
		return &FileError{Op: "publish", Path: dst, Err: err}
	}
	return syncDir(filepath.Dir(dst))
}

// Delete removes a file. A missing file returns a FileError wrapping
// fs.ErrNotExist so callers can downgrade it to a warning.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return &FileError{Op: "delete", Path: path, Err: err}
	}
	confined, err := s.confine(path)
	if err != nil {
		return &FileError{Op: "delete", Path: path, Err: err}
	}
	if err := os.Remove(confined); err != nil {
		return &FileError{Op: "delete", Path: confined, Err: err}
	}
	return nil
}

// IsNotExist reports whether err stems from a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Exists reports whether path names an existing regular file.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &FileError{Op: "stat", Path: path, Err: err}
	}
	confined, err := s.confine(path)
	if err != nil {
		return false, &FileError{Op: "stat", Path: path, Err: err}
	}
	info, err := os.Stat(confined)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &FileError{Op: "stat", Path: confined, Err: err}
	}
	return info.Mode().IsRegular(), nil
}

// Open returns a read stream over an existing file.
func (s *Store) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}
	confined, err := s.confine(path)
	if err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}
	f, err := os.Open(confined)
	if err != nil {
		return nil, &FileError{Op: "open", Path: confined, Err: err}
	}
	return f, nil
}

// FileSize returns the size in bytes of an existing file.
func (s *Store) FileSize(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &FileError{Op: "stat", Path: path, Err: err}
	}
	confined, err := s.confine(path)
	if err != nil {
		return 0, &FileError{Op: "stat", Path: path, Err: err}
	}
	info, err := os.Stat(confined)
	if err != nil {
		return 0, &FileError{Op: "stat", Path: confined, Err: err}
	}
	return info.Size(), nil
}

// confine verifies path resolves physically underneath the root. Symlinks
// are resolved before the check so a link inside the root cannot point out.
func (s *Store) confine(path string) (string, error) {
	if strings.Contains(path, "\\") {
		return "", ErrOutsideRoot
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, abs)
	}
	abs = filepath.Clean(abs)

	resolved := abs
	if rp, err := filepath.EvalSymlinks(abs); err == nil {
		resolved = rp
	} else if errors.Is(err, fs.ErrNotExist) {
		// Target does not exist yet (write path). Resolve the parent.
		if rp, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
			resolved = filepath.Join(rp, filepath.Base(abs))
		}
	} else {
		return "", err
	}

	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return resolved, nil
}

// copyCtx copies in chunks, checking for cancellation between chunks so a
// long media write does not outlive its pipeline run.
func copyCtx(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer func() { _ = d.Close() }()
	_ = d.Sync()
	return nil
}

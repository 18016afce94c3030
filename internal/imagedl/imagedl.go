// SPDX-License-Identifier: MIT

// Package imagedl downloads remote images (feed covers, per-download
// thumbnails) to local storage. URLs are validated against outbound
// policy, fetches are rate-limited per host, and anything that is not
// already a JPEG gets normalized through ffmpeg.
package imagedl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/thurstonsan/anypod/internal/fetchwork"
	"github.com/thurstonsan/anypod/internal/fsstore"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/netpol"
)

// DownloadError reports an image fetch failure. Callers log it and move
// on; a missing thumbnail never fails a pipeline run.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("imagedl: %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Converter normalizes an image file to JPG.
type Converter interface {
	ConvertToJPG(ctx context.Context, src, dst string) error
}

// Downloader fetches remote images into the file store.
type Downloader struct {
	client    *http.Client
	store     *fsstore.Store
	limiter   *fetchwork.Limiter
	converter Converter
}

// New builds a Downloader. converter may be nil, in which case non-JPEG
// images are stored under their original extension.
func New(store *fsstore.Store, limiter *fetchwork.Limiter, converter Converter) *Downloader {
	return &Downloader{
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
		store:     store,
		limiter:   limiter,
		converter: converter,
	}
}

// extByContentType maps image response types to file extensions.
var extByContentType = map[string]string{
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/webp":    "webp",
	"image/gif":     "gif",
	"image/avif":    "avif",
	"image/svg+xml": "svg",
}

// Fetch downloads remoteURL and stores it at destPath (relative to the
// data root, without extension decisions applied). Returns the extension
// the image ended up with. When a converter is configured the result is
// always "jpg".
func (d *Downloader) Fetch(ctx context.Context, remoteURL, destNoExt string) (string, error) {
	validated, err := netpol.ValidateImageURL(remoteURL)
	if err != nil {
		return "", &DownloadError{URL: remoteURL, Err: err}
	}

	u, _ := url.Parse(validated)
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, u.Hostname()); err != nil {
			return "", &DownloadError{URL: remoteURL, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validated, nil)
	if err != nil {
		return "", &DownloadError{URL: remoteURL, Err: err}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", &DownloadError{URL: remoteURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{URL: remoteURL,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	ext := extForResponse(resp, validated)
	rawPath := destNoExt + "." + ext

	if _, err := d.store.Write(ctx, rawPath, resp.Body); err != nil {
		return "", &DownloadError{URL: remoteURL, Err: err}
	}

	if ext == "jpg" || d.converter == nil {
		return ext, nil
	}

	// Normalize to JPG so podcast clients get a universally supported
	// format, then drop the original.
	jpgPath := destNoExt + ".jpg"
	absRaw := d.abs(rawPath)
	absJpg := d.abs(jpgPath)
	if err := d.converter.ConvertToJPG(ctx, absRaw, absJpg); err != nil {
		logger := log.WithComponentFromContext(ctx, "imagedl")
		logger.Warn().Err(err).
			Str("url", remoteURL).Msg("jpg normalization failed, keeping original format")
		return ext, nil
	}
	if err := d.store.Delete(ctx, rawPath); err != nil && !fsstore.IsNotExist(err) {
		logger := log.WithComponentFromContext(ctx, "imagedl")
		logger.Warn().Err(err).
			Str("path", rawPath).Msg("could not remove pre-conversion image")
	}
	return "jpg", nil
}

func (d *Downloader) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.store.Root(), path)
}

func extForResponse(resp *http.Response, fetchedURL string) string {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ext, ok := extByContentType[ct]; ok {
		return ext
	}
	if u, err := url.Parse(fetchedURL); err == nil {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(u.Path)), ".")
		for _, known := range extByContentType {
			if ext == known {
				return ext
			}
		}
	}
	return "jpg"
}

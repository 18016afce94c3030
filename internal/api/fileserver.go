// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/metrics"
)

// mimeByExt pins MIME types the OS table gets wrong or misses for
// podcast clients.
var mimeByExt = map[string]string{
	".m4a":  "audio/mp4",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".opus": "audio/opus",
	".ogg":  "audio/ogg",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".srt":  "application/x-subrip",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// secureFileServer serves media and image files from the data
// directory. The URL path maps directly onto the directory layout
// (/media/<feed>/<file>, /images/...), with traversal and symlink
// containment checks before any byte leaves disk.
func (s *Server) secureFileServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "api")

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			s.denyFile(w, logger, r.URL.Path, "method_not_allowed", http.StatusMethodNotAllowed)
			return
		}

		path := r.URL.Path
		if isPathTraversal(path) {
			s.denyFile(w, logger, path, "path_escape", http.StatusForbidden)
			return
		}
		if path == "" || strings.HasSuffix(path, "/") {
			s.denyFile(w, logger, path, "directory_listing", http.StatusForbidden)
			return
		}

		dataDir, err := filepath.Abs(s.deps.Paths.DataDir())
		if err != nil {
			s.denyFile(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}
		fullPath := filepath.Join(dataDir, path)

		realPath, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				s.denyFile(w, logger, path, "not_found", http.StatusNotFound)
				return
			}
			s.denyFile(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}
		realDataDir, err := filepath.EvalSymlinks(dataDir)
		if err != nil {
			s.denyFile(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}
		rel, err := filepath.Rel(realDataDir, realPath)
		if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
			logger.Warn().
				Str("event", "file_req.denied").
				Str("path", path).
				Str("resolved_path", realPath).
				Str("reason", "path_escape").
				Msg("path escapes data directory")
			metrics.RecordFileDenied("path_escape")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		// #nosec G304 -- realPath is confined to the data directory above
		f, err := os.Open(realPath)
		if err != nil {
			s.denyFile(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Warn().Err(err).Str("path", realPath).Msg("failed to close served file")
			}
		}()

		info, err := f.Stat()
		if err != nil {
			s.denyFile(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}
		if info.IsDir() {
			s.denyFile(w, logger, path, "directory_listing", http.StatusForbidden)
			return
		}

		if ct := contentTypeFor(info.Name()); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		logger.Debug().Str("event", "file_req.allowed").Str("path", path).Msg("serving file")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

func (s *Server) denyFile(w http.ResponseWriter, logger zerolog.Logger, path, reason string, status int) {
	logger.Warn().
		Str("event", "file_req.denied").
		Str("path", path).
		Str("reason", reason).
		Msg("file request refused")
	metrics.RecordFileDenied(reason)
	http.Error(w, http.StatusText(status), status)
}

// contentTypeFor resolves the MIME type from the explicit table first,
// then the OS table.
func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := mimeByExt[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

// isPathTraversal checks for traversal attempts after repeated URL
// decoding and Unicode normalization, catching double encodings,
// overlong UTF-8 dots, and NUL bytes.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		} else if d2, err2 := url.QueryUnescape(decoded); err2 == nil {
			decoded = d2
		}
		if decoded == prev {
			break
		}
	}

	lower := strings.ToLower(decoded)
	for _, pat := range []string{"..", "%00", "\x00", "%c0%ae", "%e0%80%ae"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}

	normalized := strings.ToLower(norm.NFC.String(decoded))
	return strings.Contains(normalized, "..")
}

// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/thurstonsan/anypod/internal/feedcache"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/metrics"
)

// handleFeedXML serves the generated RSS document, cache first, disk
// fallback. 404 until the first successful generation.
func (s *Server) handleFeedXML(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	logger := log.WithComponentFromContext(r.Context(), "api")

	if s.deps.Cache != nil {
		if entry, ok := s.deps.Cache.Get(r.Context(), feedID); ok {
			metrics.FeedCacheHitsTotal.Inc()
			s.serveFeedBody(w, r, entry)
			return
		}
		metrics.FeedCacheMissesTotal.Inc()
	}

	xmlPath, err := s.deps.Paths.FeedXMLPath(feedID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown feed")
		return
	}
	body, err := os.ReadFile(xmlPath) // #nosec G304 -- path built by the path manager
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "feed not yet generated")
			return
		}
		logger.Error().Err(err).Str("feed_id", feedID).Msg("feed document unreadable")
		writeError(w, http.StatusInternalServerError, "feed unavailable")
		return
	}

	entry := feedcache.Entry{Body: body, ETag: weakETag(body)}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(r.Context(), feedID, entry)
	}
	s.serveFeedBody(w, r, entry)
}

func (s *Server) serveFeedBody(w http.ResponseWriter, r *http.Request, entry feedcache.Entry) {
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	if entry.ETag != "" {
		w.Header().Set("ETag", entry.ETag)
		if r.Header.Get("If-None-Match") == entry.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = io.Copy(w, bytes.NewReader(entry.Body))
}

func weakETag(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf(`W/"%x"`, sum[:8])
}

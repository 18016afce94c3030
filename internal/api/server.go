// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: the public feed/media endpoints
// podcast clients hit, and the admin endpoints bound to a private
// address.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/feedcache"
	"github.com/thurstonsan/anypod/internal/joblog"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/manual"
	"github.com/thurstonsan/anypod/internal/paths"
	"github.com/thurstonsan/anypod/internal/pipeline"
)

// Refresher fires an out-of-band pipeline run; satisfied by
// *schedule.ManualRunner.
type Refresher interface {
	Trigger(feedID string, cfg *config.Feed) error
}

// Submitter ingests a manual URL submission; satisfied by
// *manual.Service.
type Submitter interface {
	Submit(ctx context.Context, feedID string, cfg *config.Feed, rawURL string) (*manual.Result, error)
}

// RSSRegenerator rebuilds a feed document outside a pipeline run;
// satisfied by *pipeline.FeedCoordinator.
type RSSRegenerator interface {
	RegenerateRSS(ctx context.Context, feedID string) (*pipeline.PhaseResult, error)
}

// AttemptSource reads archived fetcher attempts; satisfied by
// *joblog.Archive. May be nil (archive disabled).
type AttemptSource interface {
	Attempts(feedID, downloadID string) ([]joblog.Attempt, error)
}

// Deps carries everything the HTTP layer serves from.
type Deps struct {
	Settings  *config.Settings
	Holder    *config.Holder
	Feeds     *db.FeedStore
	Downloads *db.DownloadStore
	Cache     feedcache.Cache
	Paths     *paths.Manager
	Refresher Refresher
	Submitter Submitter
	RSS       RSSRegenerator
	Attempts  AttemptSource
}

// Server holds the handlers for both routers.
type Server struct {
	deps    Deps
	proxies *trustedProxies
	logger  zerolog.Logger
}

// New builds the HTTP layer.
func New(deps Deps) *Server {
	return &Server{
		deps:    deps,
		proxies: newTrustedProxies(deps.Settings.TrustedProxies),
		logger:  log.WithComponent("api"),
	}
}

// PublicRouter serves feed XML, media files, images, and the health
// endpoint.
func (s *Server) PublicRouter() http.Handler {
	r := chi.NewRouter()
	s.applyMiddleware(r)

	r.Get("/api/health", s.handleHealth)
	r.Get("/feeds/{feedID}.xml", s.handleFeedXML)
	fs := s.secureFileServer()
	r.Handle("/media/*", fs)
	r.Handle("/images/*", fs)
	return r
}

// AdminRouter serves the operator endpoints. Bind it to a private
// address; there is no authentication layer.
func (s *Server) AdminRouter() http.Handler {
	r := chi.NewRouter()
	s.applyMiddleware(r)
	r.Use(httprate.LimitByIP(60, time.Minute))

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Post("/config/reload", s.handleConfigReload)
		r.Route("/feeds/{feedID}", func(r chi.Router) {
			r.Post("/refresh", s.handleRefresh)
			r.Post("/reset-errors", s.handleResetErrors)
			r.Post("/downloads", s.handleManualSubmit)
			r.Route("/downloads/{downloadID}", func(r chi.Router) {
				r.Get("/", s.handleGetDownload)
				r.Delete("/", s.handleDeleteDownload)
				r.Get("/logs", s.handleDownloadLogs)
			})
		})
	})
	return r
}

func (s *Server) applyMiddleware(r chi.Router) {
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(tracing("anypod"))
	r.Use(s.accessLog)
}

// feedConfig resolves the live config entry for feedID.
func (s *Server) feedConfig(feedID string) (*config.Feed, bool) {
	cfg := s.deps.Holder.Get()
	if cfg == nil {
		return nil, false
	}
	feed, ok := cfg.Feeds[feedID]
	return feed, ok
}

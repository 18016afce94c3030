// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/thurstonsan/anypod/internal/api"
	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/feedcache"
	"github.com/thurstonsan/anypod/internal/fetchwork"
	"github.com/thurstonsan/anypod/internal/ffmpeg"
	"github.com/thurstonsan/anypod/internal/fsstore"
	"github.com/thurstonsan/anypod/internal/imagedl"
	"github.com/thurstonsan/anypod/internal/joblog"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/manual"
	"github.com/thurstonsan/anypod/internal/metrics"
	"github.com/thurstonsan/anypod/internal/paths"
	"github.com/thurstonsan/anypod/internal/pipeline"
	"github.com/thurstonsan/anypod/internal/reconcile"
	"github.com/thurstonsan/anypod/internal/schedule"
	"github.com/thurstonsan/anypod/internal/telemetry"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

// DebugQuickRun makes Run process every enabled feed once and exit
// instead of starting the scheduler and servers.
const DebugQuickRun = "quick_run"

// App is the fully assembled daemon: storage, pipeline, scheduler and
// HTTP surface, wired once at startup.
type App struct {
	settings config.Settings
	holder   *config.Holder

	database  *db.DB
	feeds     *db.FeedStore
	downloads *db.DownloadStore

	cache    feedcache.Cache
	attempts *joblog.Archive
	limiter  *fetchwork.Limiter

	coordinator *pipeline.FeedCoordinator
	reconciler  *reconcile.StateReconciler
	scheduler   *schedule.Scheduler
	runner      *schedule.ManualRunner
	tracing     *telemetry.Provider

	manager *Manager
	logger  zerolog.Logger
}

// New assembles the daemon. Every failure is a StartupError carrying a
// stage-specific exit code; nothing is left running on error.
func New(ctx context.Context, settings config.Settings) (*App, error) {
	logger := log.WithComponent("daemon")

	loc, err := loadLocation()
	if err != nil {
		return nil, startupErr("timezone", ExitEnvironment, err)
	}
	if err := checkDataDir(settings.DataDir); err != nil {
		return nil, startupErr("data dir", ExitEnvironment, err)
	}

	cfg, err := config.Load(settings.ConfigFile)
	if err != nil {
		return nil, startupErr("config", ExitConfig, err)
	}
	holder := config.NewHolder(cfg, settings.ConfigFile)

	fetcher, err := ytdlp.New(ctx)
	if err != nil {
		return nil, startupErr("yt-dlp", ExitDependencies, err)
	}
	prober, err := ffmpeg.NewRunner()
	if err != nil {
		return nil, startupErr("ffmpeg", ExitDependencies, err)
	}

	pm := paths.NewManager(settings.DataDir, settings.BaseURL)
	store, err := fsstore.New(settings.DataDir)
	if err != nil {
		return nil, startupErr("file store", ExitEnvironment, err)
	}
	dbPath, err := pm.DBFilePath()
	if err != nil {
		return nil, startupErr("database path", ExitStorage, err)
	}
	database, err := db.Open(dbPath, db.DefaultConfig())
	if err != nil {
		return nil, startupErr("database", ExitStorage, err)
	}

	app := &App{
		settings:  settings,
		holder:    holder,
		database:  database,
		feeds:     db.NewFeedStore(database),
		downloads: db.NewDownloadStore(database),
		logger:    logger,
	}
	// From here on, fail through closeStartup so already-opened
	// resources are released.
	if err := app.assemble(ctx, loc, fetcher, prober, pm, store); err != nil {
		app.closeStartup()
		return nil, err
	}
	return app, nil
}

func (a *App) assemble(
	ctx context.Context,
	loc *time.Location,
	fetcher *ytdlp.Client,
	prober *ffmpeg.Runner,
	pm *paths.Manager,
	store *fsstore.Store,
) error {
	settings := a.settings

	if settings.RedisAddr != "" {
		cache, err := feedcache.NewRedis(ctx, settings.RedisAddr, feedcache.DefaultTTL)
		if err != nil {
			return startupErr("redis", ExitDependencies, err)
		}
		a.cache = cache
	} else {
		a.cache = feedcache.NewMemory(feedcache.DefaultTTL)
	}

	if settings.JoblogDir != "" {
		archive, err := joblog.Open(settings.JoblogDir, settings.JoblogTTL)
		if err != nil {
			return startupErr("attempt archive", ExitStorage, err)
		}
		a.attempts = archive
	}

	a.limiter = fetchwork.New(fetchwork.DefaultConfig())
	images := imagedl.New(store, a.limiter, prober)

	// A nil *joblog.Archive must stay a nil interface.
	var recorder pipeline.AttemptRecorder
	var attemptSource api.AttemptSource
	if a.attempts != nil {
		recorder = a.attempts
		attemptSource = a.attempts
	}

	enqueuer := pipeline.NewEnqueuer(a.feeds, a.downloads, fetcher, prober)
	downloader := pipeline.NewDownloader(a.downloads, fetcher, prober, store, pm, images, recorder)
	pruner := pipeline.NewPruner(a.downloads, store, pm)
	rssgen := pipeline.NewRSSGenerator(a.feeds, a.downloads, store, pm, a.cache, images)
	a.coordinator = pipeline.NewFeedCoordinator(
		a.feeds, a.downloads,
		enqueuer, downloader, pruner, rssgen,
		fetcher, db.NewAppStateStore(a.database),
		settings.CookiesPath,
	)
	a.reconciler = reconcile.New(a.feeds, a.downloads, pruner)

	sem := semaphore.NewWeighted(int64(settings.MaxConcurrentFeeds))
	a.scheduler = schedule.New(a.coordinator, sem, loc)
	a.runner = schedule.NewManualRunner(a.coordinator, sem)
	submitter := manual.New(a.downloads, fetcher, a.runner, settings.CookiesPath)

	tracing, err := telemetry.NewProvider(ctx, &settings)
	if err != nil {
		return startupErr("telemetry", ExitDependencies, err)
	}
	a.tracing = tracing

	registerQueueDepth(a.downloads)

	server := api.New(api.Deps{
		Settings:  &a.settings,
		Holder:    a.holder,
		Feeds:     a.feeds,
		Downloads: a.downloads,
		Cache:     a.cache,
		Paths:     pm,
		Refresher: a.runner,
		Submitter: submitter,
		RSS:       a.coordinator,
		Attempts:  attemptSource,
	})
	manager, err := NewManager(
		net.JoinHostPort(settings.ServerHost, strconv.Itoa(settings.ServerPort)),
		net.JoinHostPort(settings.AdminServerHost, strconv.Itoa(settings.AdminServerPort)),
		server.PublicRouter(),
		server.AdminRouter(),
	)
	if err != nil {
		return startupErr("http", ExitFailure, err)
	}
	a.manager = manager
	return nil
}

// Run reconciles, starts the scheduler and serves until ctx is
// canceled. In quick_run debug mode it processes each feed once
// instead.
func (a *App) Run(ctx context.Context) error {
	cfg := a.holder.Get()
	ready, err := a.reconciler.Reconcile(ctx, cfg)
	if err != nil {
		// Partial reconciliation is survivable; the feeds that made it
		// through still run.
		a.logger.Error().Err(err).Str("event", "daemon.reconcile_partial").Msg("initial reconcile reported errors")
	}
	a.logger.Info().
		Str("event", "daemon.reconciled").
		Int("ready_feeds", len(ready)).
		Msg("state reconciled")

	if a.settings.DebugMode == DebugQuickRun {
		defer a.closeStartup()
		return a.quickRun(ctx, cfg, ready)
	}

	if err := a.scheduler.Start(ctx, readyFeeds(cfg, ready)); err != nil {
		a.logger.Error().Err(err).Str("event", "daemon.schedule_partial").Msg("some feeds did not schedule")
	}

	// LIFO: the database closes last, the run loops stop first.
	a.manager.RegisterShutdownHook("database", func(context.Context) error { return a.database.Close() })
	if a.attempts != nil {
		a.manager.RegisterShutdownHook("attempt-archive", func(context.Context) error { return a.attempts.Close() })
	}
	a.manager.RegisterShutdownHook("feed-cache", func(context.Context) error { return a.cache.Close() })
	a.manager.RegisterShutdownHook("rate-limiter", func(context.Context) error { a.limiter.Close(); return nil })
	a.manager.RegisterShutdownHook("telemetry", a.tracing.Shutdown)
	a.manager.RegisterShutdownHook("scheduler", a.scheduler.Stop)
	a.manager.RegisterShutdownHook("manual-runner", a.runner.Shutdown)

	configCh := make(chan *config.Config, 1)
	a.holder.RegisterListener(configCh)
	go a.applyConfigUpdates(ctx, configCh)

	if a.settings.ConfigReload {
		if err := a.holder.StartWatcher(ctx); err != nil {
			a.logger.Error().Err(err).Str("event", "daemon.watcher_failed").Msg("config watcher not started")
		}
	}

	return a.manager.Start(ctx)
}

// applyConfigUpdates re-reconciles and rebuilds the scheduler after
// every accepted reload.
func (a *App) applyConfigUpdates(ctx context.Context, ch <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			ready, err := a.reconciler.Reconcile(ctx, cfg)
			if err != nil {
				a.logger.Error().Err(err).Str("event", "daemon.reconcile_partial").Msg("reconcile after reload reported errors")
			}
			if err := a.scheduler.Rebuild(readyFeeds(cfg, ready)); err != nil {
				a.logger.Error().Err(err).Str("event", "daemon.schedule_partial").Msg("some feeds did not reschedule")
			}
			a.logger.Info().
				Str("event", "daemon.config_applied").
				Int("ready_feeds", len(ready)).
				Msg("configuration change applied")
		}
	}
}

func (a *App) quickRun(ctx context.Context, cfg *config.Config, ready []string) error {
	var g errgroup.Group
	g.SetLimit(a.settings.MaxConcurrentFeeds)

	var mu sync.Mutex
	var failed []error
	for _, feedID := range ready {
		feedCfg, ok := cfg.Feeds[feedID]
		if !ok || feedCfg.IsManual {
			continue
		}
		g.Go(func() error {
			result := a.coordinator.Process(ctx, feedID, feedCfg)
			var err error
			if result.FatalError != nil {
				err = fmt.Errorf("feed %s: %w", feedID, result.FatalError)
			} else if !result.OverallSuccess {
				err = fmt.Errorf("feed %s: run finished with errors", feedID)
			}
			if err != nil {
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(failed) > 0 {
		return fmt.Errorf("quick run: %w", errors.Join(failed...))
	}
	a.logger.Info().Str("event", "daemon.quick_run_done").Int("feeds", len(ready)).Msg("quick run completed")
	return nil
}

// closeStartup releases resources opened during New; used on assembly
// failure and after quick_run, where the manager hooks never run.
func (a *App) closeStartup() {
	if a.tracing != nil {
		_ = a.tracing.Shutdown(context.Background())
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.attempts != nil {
		_ = a.attempts.Close()
	}
	if a.database != nil {
		_ = a.database.Close()
	}
}

// readyFeeds projects the config down to the feeds the reconciler
// cleared for scheduling.
func readyFeeds(cfg *config.Config, ready []string) map[string]*config.Feed {
	out := make(map[string]*config.Feed, len(ready))
	for _, id := range ready {
		if feedCfg, ok := cfg.Feeds[id]; ok {
			out[id] = feedCfg
		}
	}
	return out
}

// registerQueueDepth registers the live queue depth collector, ignoring
// duplicate registration so repeated assembly in one process is safe.
func registerQueueDepth(counter metrics.StatusCounter) {
	c := metrics.NewQueueDepthCollector(counter)
	if err := prometheus.DefaultRegisterer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			logger := log.WithComponent("daemon")
			logger.Warn().Err(err).Msg("queue depth collector not registered")
		}
	}
}

// checkDataDir verifies the data directory exists and is writable by
// creating and removing a probe file.
func checkDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// loadLocation resolves TZ for cron evaluation; unset means local time.
func loadLocation() (*time.Location, error) {
	tz := os.Getenv("TZ")
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

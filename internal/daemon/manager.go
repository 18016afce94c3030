// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/log"
)

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

const (
	readTimeout       = 15 * time.Second
	idleTimeout       = 120 * time.Second
	adminWriteTimeout = 60 * time.Second

	// ShutdownTimeout bounds graceful shutdown even when the parent
	// context is already canceled.
	ShutdownTimeout = 30 * time.Second
)

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager owns the two HTTP servers and the shutdown sequence.
type Manager struct {
	publicAddr string
	adminAddr  string
	public     http.Handler
	admin      http.Handler

	publicSrv *http.Server
	adminSrv  *http.Server

	hooks    []namedHook
	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

// NewManager builds a manager serving the public router on publicAddr
// and the admin router on adminAddr.
func NewManager(publicAddr, adminAddr string, public, admin http.Handler) (*Manager, error) {
	if public == nil || admin == nil {
		return nil, ErrMissingHandler
	}
	return &Manager{
		publicAddr: publicAddr,
		adminAddr:  adminAddr,
		public:     public,
		admin:      admin,
		logger:     log.WithComponent("daemon"),
	}, nil
}

// RegisterShutdownHook adds a cleanup step executed during Shutdown in
// LIFO order.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("event", "daemon.hook_registered").Str("hook", name).Msg("registered shutdown hook")
}

// Start brings up both servers and blocks until the context is
// canceled or a server fails, then runs graceful shutdown.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("event", "daemon.starting").
		Str("public_addr", m.publicAddr).
		Str("admin_addr", m.adminAddr).
		Msg("starting servers")

	errChan := make(chan error, 2)

	// Media responses can take minutes on slow clients, so the public
	// server runs without a write deadline.
	m.publicSrv = &http.Server{
		Addr:              m.publicAddr,
		Handler:           m.public,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout / 2,
		IdleTimeout:       idleTimeout,
	}
	m.adminSrv = &http.Server{
		Addr:              m.adminAddr,
		Handler:           m.admin,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout / 2,
		WriteTimeout:      adminWriteTimeout,
		IdleTimeout:       idleTimeout,
	}
	m.serve("public", m.publicSrv, errChan)
	m.serve("admin", m.adminSrv, errChan)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Str("event", "daemon.server_failed").Msg("server error, shutting down")
		// Detached but bounded: shutdown must complete even if the
		// parent context died with the server.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Str("event", "daemon.signal").Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

func (m *Manager) serve(name string, srv *http.Server, errChan chan<- error) {
	go func() {
		m.logger.Info().
			Str("event", "daemon.listening").
			Str("server", name).
			Str("addr", srv.Addr).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
}

// Shutdown stops both servers, then runs the hooks LIFO. Safe to call
// more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	m.mu.Unlock()

	m.logger.Info().Str("event", "daemon.stopping").Msg("shutting down")

	var errs []error
	for name, srv := range map[string]*http.Server{"public": m.publicSrv, "admin": m.adminSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s server shutdown: %w", name, err))
		}
	}

	for i := len(m.hooks) - 1; i >= 0; i-- {
		h := m.hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("event", "daemon.hook_failed").
				Str("hook", h.name).
				Dur("duration", time.Since(start)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("event", "daemon.hook_done").
			Str("hook", h.name).
			Dur("duration", time.Since(start)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Str("event", "daemon.stopped").Msg("stopped cleanly")
	return nil
}

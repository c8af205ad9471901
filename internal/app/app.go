// Package app wires the tag-sync components together and manages their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/tag-sync/internal/config"
	pkgsync "github.com/stacklok/tag-sync/internal/sync"
)

// TagSyncApp encapsulates everything needed to run reconciliation passes.
// The HTTP server is optional and only built when an address is configured.
type TagSyncApp struct {
	config     *config.Config
	components *Components
	httpServer *http.Server

	// closers release resources such as the PostHog capture queue
	closers []func() error

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	done       chan struct{}
	// shutdownTimeout bounds the HTTP server shutdown
	shutdownTimeout time.Duration
	startOnce       sync.Once
	closeOnce       sync.Once
}

// Start runs the coordinator and, when configured, the HTTP server.
// It blocks until the application context is cancelled or either fails.
func (app *TagSyncApp) Start() error {
	started := false
	app.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("application already started")
	}
	defer close(app.done)

	g, gctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		if err := app.components.SyncCoordinator.Start(gctx); err != nil {
			return fmt.Errorf("sync coordinator failed: %w", err)
		}
		return nil
	})

	if app.httpServer != nil {
		g.Go(func() error {
			slog.Info("Server listening", "address", app.httpServer.Addr)
			if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), app.shutdownTimeout)
			defer cancel()
			if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// RunOnce performs a single pass through the coordinator, so metrics and
// status are recorded exactly as for scheduled passes.
func (app *TagSyncApp) RunOnce(ctx context.Context) (*pkgsync.Result, error) {
	return app.components.SyncCoordinator.RunOnce(ctx)
}

// Stop gracefully stops the application with the given timeout.
// It stops the coordinator, waits for Start to return and flushes the sinks.
func (app *TagSyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down tag-sync...")

	if err := app.components.SyncCoordinator.Stop(); err != nil {
		slog.Error("Failed to stop sync coordinator", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	// Mark the app as started so a late Start call cannot block Stop
	app.startOnce.Do(func() { close(app.done) })

	var errs []error
	select {
	case <-app.done:
	case <-time.After(timeout):
		errs = append(errs, fmt.Errorf("timed out after %s waiting for shutdown", timeout))
	}

	errs = append(errs, app.Close())

	slog.Info("Shutdown complete")
	return errors.Join(errs...)
}

// Close releases the resources held by the components. It is safe to call more than once.
func (app *TagSyncApp) Close() error {
	var errs []error
	app.closeOnce.Do(func() {
		for _, closer := range app.closers {
			if err := closer(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// GetConfig returns the application configuration
func (app *TagSyncApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the wired components
func (app *TagSyncApp) GetComponents() *Components {
	return app.components
}

// GetHTTPServer returns the HTTP server, or nil when none is configured
func (app *TagSyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	tagsync "github.com/stacklok/tag-sync/internal/app"
)

const defaultGracefulTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile tags on an interval until interrupted",
		Long: `Run authenticates to PostHog and Bitbucket, then performs a reconciliation
pass immediately and on every sync interval (syncPolicy.interval, default 1m).
A pass is skipped when the previous one started less than syncPolicy.guardWindow
ago (default 1h).

When --address is set, or the Prometheus exporter is enabled, an HTTP server
exposes /health, /readiness, /status, /version and /metrics.`,
		RunE: runRun,
	}

	runCmd.Flags().String("address", "", "Address for the health and metrics server (disabled when empty)")
	runCmd.Flags().Bool("ephemeral", false, "Keep the run guard in memory instead of the state directory")
	runCmd.Flags().Duration("shutdown-timeout", defaultGracefulTimeout, "Maximum time to wait for a graceful shutdown")

	return runCmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address, _ := cmd.Flags().GetString("address")
	ephemeral, _ := cmd.Flags().GetBool("ephemeral")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, shutdownTelemetry, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	opts := appOptions(cfg, tel, ephemeral, address)
	opts = append(opts, tagsync.WithShutdownTimeout(shutdownTimeout))

	app, err := tagsync.NewTagSyncApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	appCfg := app.GetConfig()
	slog.Info("Starting tag-sync",
		"repository", appCfg.BitbucketWorkspace+"/"+appCfg.RepoName,
		"interval", appCfg.GetSyncInterval(),
		"guard_window", appCfg.GetGuardWindow(),
		"ephemeral", ephemeral)
	if server := app.GetHTTPServer(); server != nil {
		slog.Info("Serving health and metrics endpoints", "address", server.Addr)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			_ = app.Stop(shutdownTimeout)
			return err
		}
	}

	return app.Stop(shutdownTimeout)
}

// contextOrBackground returns ctx, or context.Background when cobra was run without one
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

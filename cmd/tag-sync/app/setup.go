package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	tagsync "github.com/stacklok/tag-sync/internal/app"
	"github.com/stacklok/tag-sync/internal/config"
	"github.com/stacklok/tag-sync/internal/sync/state"
	"github.com/stacklok/tag-sync/internal/telemetry"
	"github.com/stacklok/tag-sync/internal/versions"
)

const telemetryShutdownTimeout = 10 * time.Second

// loadConfig loads configuration using the --config and --env-file flags
func loadConfig() (*config.Config, error) {
	var opts []config.Option
	if path := viper.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	if envFile := viper.GetString("env-file"); envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("Loaded configuration",
		"config_file", viper.GetString("config"),
		"posthog_host", cfg.PostHogHost,
		"bitbucket_host", cfg.BitbucketHost,
		"repository", cfg.BitbucketWorkspace+"/"+cfg.RepoName)

	return cfg, nil
}

// setupTelemetry initializes telemetry and returns a shutdown function
func setupTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, func(), error) {
	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(cfg.Telemetry),
		telemetry.WithServiceVersion(versions.GetVersionInfo().Version),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}

	return tel, shutdown, nil
}

// appOptions translates flags and telemetry into app builder options
func appOptions(cfg *config.Config, tel *telemetry.Telemetry, ephemeral bool, address string) []tagsync.TagSyncAppOptions {
	opts := []tagsync.TagSyncAppOptions{
		tagsync.WithConfig(cfg),
		tagsync.WithMeterProvider(tel.MeterProvider()),
		tagsync.WithTracerProvider(tel.TracerProvider()),
	}

	if ephemeral {
		slog.Warn("Using in-memory run guard; state is lost on exit")
		opts = append(opts, tagsync.WithStore(state.NewMemoryStore()))
	}

	if address == "" && tel.PrometheusEnabled() {
		address = tel.PrometheusAddress()
	}
	if address != "" {
		opts = append(opts, tagsync.WithAddress(address))
	}
	if handler := tel.MetricsHandler(); handler != nil {
		opts = append(opts, tagsync.WithMetricsHandler(handler))
	}

	return opts
}

package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	tagsync "github.com/stacklok/tag-sync/internal/app"
	pkgsync "github.com/stacklok/tag-sync/internal/sync"
)

func newOnceCmd() *cobra.Command {
	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Perform a single reconciliation pass and exit",
		Long: `Once authenticates to PostHog and Bitbucket and performs exactly one
reconciliation pass, for use with an external scheduler such as cron or a
Kubernetes CronJob. The run guard still applies.`,
		RunE: runOnce,
	}

	onceCmd.Flags().Bool("ephemeral", false, "Keep the run guard in memory instead of the state directory")
	onceCmd.Flags().String("format", "", "Output format for the pass result (json)")

	return onceCmd
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ephemeral, _ := cmd.Flags().GetBool("ephemeral")
	format, _ := cmd.Flags().GetString("format")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, shutdownTelemetry, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	app, err := tagsync.NewTagSyncApp(ctx, appOptions(cfg, tel, ephemeral, "")...)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("Failed to flush event capture", "error", err)
		}
	}()

	result, err := app.RunOnce(ctx)
	if err != nil {
		return err
	}

	return printResult(cmd, result, format)
}

// printResult writes the pass result to stdout
func printResult(cmd *cobra.Command, result *pkgsync.Result, format string) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("error formatting result as JSON: %w", err)
		}
		_, err = fmt.Fprintln(out, string(output))
		return err
	}

	if result.Skipped {
		_, err := fmt.Fprintln(out, "Skipped: the previous pass is inside the guard window")
		return err
	}

	_, err := fmt.Fprintf(out, "Created %d annotation(s), %d failed, %d tag(s) seen\n",
		len(result.Created), len(result.Failed), result.TagCount)
	return err
}

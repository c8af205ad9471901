package coordinator

import (
	"log/slog"
	"time"

	"github.com/stacklok/tag-sync/internal/config"
)

// getSyncInterval returns the tick interval, falling back to the default when
// the configured value is not a positive duration
func getSyncInterval(cfg *config.Config) time.Duration {
	interval := cfg.GetSyncInterval()
	if interval <= 0 {
		slog.Warn("Invalid sync interval, using default",
			"interval", cfg.SyncPolicy.Interval,
			"default", config.DefaultSyncInterval)
		return config.DefaultSyncInterval
	}
	return interval
}

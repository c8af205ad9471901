package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/tag-sync/internal/config"
	"github.com/stacklok/tag-sync/internal/status"
	pkgsync "github.com/stacklok/tag-sync/internal/sync"
	"github.com/stacklok/tag-sync/internal/telemetry"
)

// Coordinator schedules reconciliation passes
type Coordinator interface {
	// Start runs one pass immediately and then one per interval.
	// Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop cancels the loop and waits for the running pass to return
	Stop() error

	// RunOnce performs a single pass, recording metrics and status
	RunOnce(ctx context.Context) (*pkgsync.Result, error)

	// Status returns a snapshot of the last pass outcome
	Status() *status.SyncStatus
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	runner     pkgsync.Runner
	repository string
	interval   time.Duration

	// passMu keeps passes of one process from overlapping
	passMu sync.Mutex

	// Lifecycle management
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}

	tracker     *status.Tracker
	syncMetrics *telemetry.SyncMetrics
	now         func() time.Time
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// WithStatusTracker shares a status tracker with other components, such as
// the health server
func WithStatusTracker(tracker *status.Tracker) Option {
	return func(c *defaultCoordinator) {
		c.tracker = tracker
	}
}

// WithInterval overrides the interval taken from the sync policy
func WithInterval(interval time.Duration) Option {
	return func(c *defaultCoordinator) {
		c.interval = interval
	}
}

// New creates a new coordinator with injected dependencies
func New(runner pkgsync.Runner, cfg *config.Config, opts ...Option) Coordinator {
	repository := cfg.BitbucketWorkspace + "/" + cfg.RepoName
	c := &defaultCoordinator{
		runner:     runner,
		repository: repository,
		interval:   getSyncInterval(cfg),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.tracker == nil {
		c.tracker = status.NewTracker(repository)
	}

	return c
}

// Start begins background sync coordination
func (c *defaultCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	slog.Info("Starting background sync coordinator",
		"repository", c.repository,
		"interval", c.interval)

	defer func() {
		cancel()
		close(done)
		slog.Info("Background sync coordinator shutting down")
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Perform initial pass
	c.runPass(coordCtx)

	for {
		select {
		case <-ticker.C:
			c.runPass(coordCtx)
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancelFunc, c.done
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping sync coordinator")
		cancel()
		// Wait for coordinator to finish
		<-done
	}
	return nil
}

// Status returns a snapshot of the last pass outcome
func (c *defaultCoordinator) Status() *status.SyncStatus {
	return c.tracker.Get()
}

// runPass performs a pass from the loop. Errors are logged and the loop goes on.
func (c *defaultCoordinator) runPass(ctx context.Context) {
	if _, err := c.RunOnce(ctx); err != nil {
		slog.Error("Sync failed", "repository", c.repository, "error", err)
	}
}

// RunOnce executes one pass and updates metrics and status
func (c *defaultCoordinator) RunOnce(ctx context.Context) (_ *pkgsync.Result, err error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	startTime := c.now()
	c.tracker.Update(func(s *status.SyncStatus) {
		s.Phase = status.SyncPhaseSyncing
		s.Message = "Sync in progress"
		s.LastAttempt = &startTime
	})

	// Failed until the runner returns cleanly
	outcome := telemetry.OutcomeFailed
	message := fmt.Sprintf("Unexpected failure while syncing %s", c.repository)
	var result *pkgsync.Result
	var syncErr error

	defer func() {
		c.syncMetrics.RecordPassDuration(ctx, c.repository, c.now().Sub(startTime), outcome)
		c.tracker.Update(func(s *status.SyncStatus) {
			c.applyOutcome(s, outcome, message, result)
		})
	}()

	// A panicking pass is recorded as failed and must not stop the loop
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sync panicked", "repository", c.repository, "panic", r)
			message = fmt.Sprintf("Sync panicked: %v", r)
			err = fmt.Errorf("sync of %s panicked: %v", c.repository, r)
		}
	}()

	result, syncErr = c.runner.Run(ctx)
	if result != nil && result.RunID != "" {
		c.tracker.Update(func(s *status.SyncStatus) { s.LastRunID = result.RunID })
	}

	switch {
	case syncErr != nil:
		message = syncErr.Error()
		return result, syncErr
	case result == nil:
		message = "Sync returned no result"
		return nil, fmt.Errorf("sync of %s returned no result", c.repository)
	case result.Skipped:
		outcome = telemetry.OutcomeSkipped
		message = "Sync skipped: previous pass is inside the guard window"
		slog.Debug("Sync skipped", "repository", c.repository)
	default:
		outcome = telemetry.OutcomeSuccess
		message = fmt.Sprintf("Sync completed: %d created, %d failed", len(result.Created), len(result.Failed))
		c.syncMetrics.RecordAnnotations(ctx, c.repository, len(result.Created), len(result.Failed))
		c.syncMetrics.RecordTagsTotal(ctx, c.repository, int64(result.TagCount))
		slog.Info("Sync completed successfully",
			"repository", c.repository,
			"run_id", result.RunID,
			"tags", result.TagCount,
			"created", len(result.Created),
			"failed", len(result.Failed),
			"duration", result.Duration)
	}

	return result, nil
}

// applyOutcome folds a finished pass into the status
func (c *defaultCoordinator) applyOutcome(s *status.SyncStatus, outcome, message string, result *pkgsync.Result) {
	s.Message = message
	switch outcome {
	case telemetry.OutcomeSuccess:
		now := c.now()
		s.Phase = status.SyncPhaseComplete
		s.LastSyncTime = &now
		s.AttemptCount = 0
		s.TagCount = result.TagCount
		s.CreatedCount = len(result.Created)
		s.FailedCount = len(result.Failed)
	case telemetry.OutcomeSkipped:
		s.Phase = status.SyncPhaseSkipped
	default:
		s.Phase = status.SyncPhaseFailed
		s.AttemptCount++
	}
}

// Package coordinator provides background scheduling of reconciliation passes.
//
// This package implements the orchestration layer that runs a sync.Runner
// periodically. It sits on top of internal/sync and handles:
//
//   - Scheduling with time.Ticker at the sync policy interval
//   - An initial pass on startup
//   - Pass metrics (duration by outcome, created and failed annotations, tag count)
//   - The pass status shared with the health endpoints
//   - Graceful shutdown
//
// # Architecture
//
//   - internal/sync: Domain logic (guard, diff, annotation creation)
//   - internal/sync/coordinator: Orchestration (scheduling, lifecycle, status)
//   - cmd/tag-sync/app: process lifecycle (starts and stops the coordinator)
//
// # Usage Example
//
//	job := sync.NewJob(sess, guard, sync.WithSink(sink))
//	coord := coordinator.New(job, cfg,
//	    coordinator.WithSyncMetrics(metrics),
//	    coordinator.WithStatusTracker(tracker))
//
//	go coord.Start(ctx)
//	// ...
//	coord.Stop()
//
// # Error Handling
//
// A failed pass is logged, counted, and reflected in the status as Failed.
// The coordinator keeps running and the next tick tries again. Whether that
// tick performs work is decided by the run guard inside the Job.
//
// # Thread Safety
//
// Passes are serialized by an internal mutex, so RunOnce may be called while
// the loop is running without two passes overlapping in one process.
package coordinator

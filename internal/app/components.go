package app

import (
	"github.com/stacklok/tag-sync/internal/session"
	"github.com/stacklok/tag-sync/internal/status"
	"github.com/stacklok/tag-sync/internal/sync/coordinator"
	"github.com/stacklok/tag-sync/internal/sync/state"
	"github.com/stacklok/tag-sync/internal/telemetry"
)

// Components groups all application components
type Components struct {
	// Session holds the validated endpoints and credentials
	Session *session.Session

	// SyncCoordinator schedules reconciliation passes
	SyncCoordinator coordinator.Coordinator

	// StatusTracker is shared by the coordinator and the health server
	StatusTracker *status.Tracker

	// Store persists the run guard
	Store state.Store

	// Sink receives captured events
	Sink telemetry.Sink
}

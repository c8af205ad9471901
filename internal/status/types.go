// Package status tracks the outcome of reconciliation passes for the health endpoints.
package status

import "time"

// SyncPhase represents the current phase of a reconciliation pass
type SyncPhase string

const (
	// SyncPhasePending means no pass has run yet
	SyncPhasePending SyncPhase = "Pending"

	// SyncPhaseSyncing means a pass is currently in progress
	SyncPhaseSyncing SyncPhase = "Syncing"

	// SyncPhaseComplete means the last pass completed
	SyncPhaseComplete SyncPhase = "Complete"

	// SyncPhaseSkipped means the last pass was stopped by the run guard
	SyncPhaseSkipped SyncPhase = "Skipped"

	// SyncPhaseFailed means the last pass failed
	SyncPhaseFailed SyncPhase = "Failed"
)

// SyncStatus represents the state of tag synchronization for one repository
type SyncStatus struct {
	// Repository is the "workspace/repo" being reconciled
	Repository string `json:"repository" yaml:"repository"`

	// Phase represents the current synchronization phase
	Phase SyncPhase `json:"phase" yaml:"phase"`

	// Message provides additional information about the sync status
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// LastRunID identifies the most recent pass in logs and traces
	LastRunID string `json:"lastRunId,omitempty" yaml:"lastRunId,omitempty"`

	// LastAttempt is the timestamp of the last pass attempt
	LastAttempt *time.Time `json:"lastAttempt,omitempty" yaml:"lastAttempt,omitempty"`

	// AttemptCount is the number of failed passes since the last success
	AttemptCount int `json:"attemptCount,omitempty" yaml:"attemptCount,omitempty"`

	// LastSyncTime is the timestamp of the last pass that completed
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty" yaml:"lastSyncTime,omitempty"`

	// TagCount is the number of tags seen by the last completed pass
	TagCount int `json:"tagCount,omitempty" yaml:"tagCount,omitempty"`

	// CreatedCount is the number of annotations created by the last completed pass
	CreatedCount int `json:"createdCount,omitempty" yaml:"createdCount,omitempty"`

	// FailedCount is the number of annotations the last completed pass could not create
	FailedCount int `json:"failedCount,omitempty" yaml:"failedCount,omitempty"`
}

// Clone returns a deep copy of the status
func (s *SyncStatus) Clone() *SyncStatus {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastAttempt != nil {
		t := *s.LastAttempt
		c.LastAttempt = &t
	}
	if s.LastSyncTime != nil {
		t := *s.LastSyncTime
		c.LastSyncTime = &t
	}
	return &c
}

// Healthy reports whether the last finished pass did not fail
func (s *SyncStatus) Healthy() bool {
	return s != nil && s.Phase != SyncPhaseFailed
}

package status

import "sync"

// Tracker holds the sync status shared by the coordinator and the HTTP server
type Tracker struct {
	mu     sync.RWMutex
	status SyncStatus
}

// NewTracker creates a tracker in the Pending phase for repository
func NewTracker(repository string) *Tracker {
	return &Tracker{
		status: SyncStatus{
			Repository: repository,
			Phase:      SyncPhasePending,
			Message:    "No pass has run yet",
		},
	}
}

// Get returns a copy of the current status
func (t *Tracker) Get() *SyncStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Clone()
}

// Update applies fn to the status under the tracker lock
func (t *Tracker) Update(fn func(*SyncStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.status)
}

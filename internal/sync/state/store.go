// Package state persists the small amount of state tag-sync keeps between
// passes: the run guard that stops overlapping reconciliation passes.
package state

import "context"

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store is a string key-value store
type Store interface {
	// Get returns the value stored under key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

package sync

import "context"

// Runner performs one reconciliation pass
//
//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks -source=runner.go Runner
type Runner interface {
	// Run performs a pass. A skipped pass returns a Result with Skipped set and no error.
	Run(ctx context.Context) (*Result, error)
}

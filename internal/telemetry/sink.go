package telemetry

import "context"

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=sink.go Sink

// Sink receives named product events with their properties
type Sink interface {
	Capture(ctx context.Context, event string, properties map[string]any) error
}

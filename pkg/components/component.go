package components

import (
	"context"
)

// Component is a long-running engine part. The engine gives each component
// its own goroutine; Execute blocks until ctx is cancelled or the component
// fails, and Stop tells a running Execute to wind down cleanly.
type Component interface {
	// Name returns the unique identifier for this component
	Name() string
	// Execute runs the component with the given context
	Execute(ctx context.Context) error
	// Stop cleanly stops the component
	Stop()
}

package util

import (
	"context"
	"time"
)

// NewTimeoutContext creates a context with the given timeout.
// Callers must invoke the returned cancel function, typically via defer.
func NewTimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

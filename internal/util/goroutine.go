package util

import (
	"fmt"
	"log/slog"
)

// SafeGo launches a goroutine with panic recovery.
// If the goroutine panics, the panic is recovered and logged.
// This prevents a single goroutine panic from crashing the entire process.
func SafeGo(logger *slog.Logger, component string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in goroutine",
					"component", component,
					"panic", fmt.Sprintf("%v", r))
			}
		}()
		fn()
	}()
}

package util

import (
	"fmt"
	"log/slog"
)

// LogError logs an error with component and operation context.
// This helper standardizes error logging across the codebase.
//
// Example:
//
//	LogError(logger, "gate", "upgrade connection", err, "monitor_id", monitorID)
func LogError(logger *slog.Logger, component, operation string, err error, fields ...any) {
	allFields := []any{"error", err, "component", component}
	allFields = append(allFields, fields...)
	logger.Error(fmt.Sprintf("Failed to %s", operation), allFields...)
}

// Package obslog hands every component a slog.Logger tagged with its own
// name, mirroring the component-scoped logging convention used across the
// runtime's packages.
package obslog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	once    sync.Once
	handler slog.Handler
)

func baseHandler() slog.Handler {
	once.Do(func() {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	})
	return handler
}

// SetHandler overrides the process-wide base handler. Intended for tests and
// for callers that want JSON logs or a different level.
func SetHandler(h slog.Handler) {
	handler = h
}

// New returns a logger that tags every record with component=<name>.
func New(component string) *slog.Logger {
	return slog.New(baseHandler()).With("component", component)
}

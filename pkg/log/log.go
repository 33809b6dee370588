// Package log wires the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler on stderr at the given level.
func Setup(logLevel string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	})))
}

// ParseLevel resolves a level name to a slog level. It accepts the slog
// names case-insensitively, the "warning" spelling, and slog's offset
// syntax ("debug-4", "error+8"). Anything unrecognized falls back to info.
func ParseLevel(name string) slog.Level {
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}

	return level
}

// WithModule returns the default logger scoped to one subsystem.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

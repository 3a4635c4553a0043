// Package logging configures the process-wide logger. Every binary emits
// flat JSON records on stdout so the log pipeline needs no schema.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a JSON slog.Logger filtering below the named level.
// Unrecognized names fall back to info so a typo never silences a process.
func NewLogger(level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
	})
	return slog.New(h)
}

// ParseLevel maps a level name onto its slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

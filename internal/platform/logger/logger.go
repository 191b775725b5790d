package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New initializes a JSON slog.Logger writing to stdout.
// Log level can be debug, info, warn, error
func New(level string) *slog.Logger {
	return NewWithFormat(level, "json")
}

// NewWithFormat is New with a selectable handler: "text" for local development, anything else for JSON.
func NewWithFormat(level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is NewWithFormat writing to w. CLIs use it to keep logs off stdout.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

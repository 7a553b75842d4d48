// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var logFile *os.File

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
	File   string // optional; output is written to stdout and the file
}

// Setup installs the default slog logger. When a file is configured, output
// goes to both stdout and the file; call Close before exit.
func Setup(cfg Config) error {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		Close()
		logFile = f
		out = io.MultiWriter(os.Stdout, f)
	}
	slog.SetDefault(slog.New(NewHandler(out, cfg)))
	return nil
}

// NewHandler builds the handler Setup installs, writing to w.
func NewHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Close releases the log file opened by Setup, if any.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}

// WorkerLogger returns a component logger tagged with a worker id.
func WorkerLogger(component string, workerID int) *slog.Logger {
	return Component(component).With("worker_id", workerID)
}

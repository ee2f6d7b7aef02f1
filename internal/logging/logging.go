// Package logging configures the process-wide slog default logger.
//
// This mirrors github.com/Honorable-Knights-of-the-Roundtable/roundtable's
// internal/utils.ConfigureDefaultLogger: a log level string plus an optional
// log file path select between a text handler to stdout and a JSON handler to
// a file, with "none" disabling logging entirely.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

var ErrUnknownLogLevel = errors.New("unexpected log level")

// Configure sets slog's default logger and returns the *os.File it writes to
// (nil if writing to stdout or discarding). The caller should defer Close()
// on a non-nil result.
func Configure(logLevel string, logFile string) (*os.File, error) {
	opts := slog.HandlerOptions{}

	switch logLevel {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, ErrUnknownLogLevel
	}

	var filePointer *os.File
	var handler slog.Handler
	if logFile == "" {
		handler = slog.NewTextHandler(os.Stdout, &opts)
	} else {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		filePointer = f
		handler = slog.NewJSONHandler(f, &opts)
	}

	slog.SetDefault(slog.New(handler))
	return filePointer, nil
}

// ChildOrDefault returns logger if non-nil, otherwise slog.Default(). This is
// the constructor convention used throughout the core: every component
// accepts an optional *slog.Logger to scope its logging.
func ChildOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Package logging builds the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup returns a JSON *slog.Logger writing to stderr, tee'd to logFile when
// one is given, and installs it as the slog default. The returned closer
// flushes and closes the log file; callers defer it from main.
func Setup(level, logFile string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(normalizeLevel(level))); err != nil {
		return nil, nil, fmt.Errorf("failed to parse log level %q: %w", level, err)
	}

	out := io.Writer(os.Stderr)
	closer := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = func() { _ = f.Close() }
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, closer, nil
}

// Component derives a child logger tagged with the subsystem name, so log
// lines from the capture pipeline, the web server, and the stores can be
// told apart in one stream.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}

func normalizeLevel(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "info"
	}
	if s == "warning" {
		return "warn"
	}
	return s
}

// Package logging configures the process-wide slog default for the CLI.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// Setup installs the default logger. With an empty target only info and
// above reach stderr; "stdout" or "-" enables debug logging on stderr; any
// other value is a file path receiving debug logs. The returned func closes
// the log file, if any.
func Setup(debugTarget string) (func(), error) {
	closeFn := func() {}

	switch debugTarget {
	case "":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})))

	case "stdout", "-":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))

	default:
		f, err := os.OpenFile(debugTarget, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open debug log file: %w", err)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
		closeFn = func() { _ = f.Close() }
	}

	return closeFn, nil
}

// Package format provides consistent ANSI styling for CLI output.
package format

import (
	"fmt"
	"os"
)

// ANSI color codes
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m"
)

// Check if we should use colors (not disabled, and terminal supports it)
func shouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) == 0 {
		return false
	}

	return true
}

func colorize(s string, color string) string {
	if !shouldUseColor() {
		return s
	}
	return color + s + Reset
}

// Success formats success messages with green
func Success(msg string) string {
	return colorize(msg, Green)
}

// Error formats error messages with red
func Error(msg string) string {
	return colorize(msg, Red)
}

// Warn formats warnings with yellow
func Warn(msg string) string {
	return colorize(msg, Yellow)
}

// Info formats info messages with blue
func Info(msg string) string {
	return colorize(msg, Blue)
}

// Model formats a model identifier with consistent color (cyan)
func Model(name string) string {
	return colorize(name, Cyan)
}

// Dim formats secondary detail in gray
func Dim(msg string) string {
	return colorize(msg, Gray)
}

// State colors a backend state by its meaning
func State(state string) string {
	switch state {
	case "ready":
		return colorize(state, Green)
	case "starting", "degraded":
		return colorize(state, Yellow)
	case "crashed":
		return colorize(state, Red)
	default:
		return colorize(state, Gray)
	}
}

// Check renders a per-service connection test line marker
func Check(ok bool) string {
	if ok {
		return Success("✓")
	}
	return Error("✗")
}

// Errorf prints a formatted error line to stderr
func Errorf(formatStr string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+formatStr+"\n", args...)
}

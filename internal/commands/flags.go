// Package commands implements the msconsole CLI subcommands.
package commands

import (
	"strings"
)

// GlobalFlags contains flags that apply to all commands and may appear in
// any argument position.
type GlobalFlags struct {
	// DebugTarget routes debug logging: "" disables it, "stdout"/"-" sends
	// it to the console, anything else is a file path.
	DebugTarget string

	// ConfigDir overrides MSCONSOLE_CONFIG_DIR.
	ConfigDir string

	// DaemonURL overrides where daemon-backed commands connect.
	DaemonURL string

	Help bool
}

// ParseGlobalFlagsFromAnyPosition extracts global flags wherever they occur
// and returns the remaining arguments untouched, so subcommands can parse
// their own flags normally.
func ParseGlobalFlagsFromAnyPosition(args []string) ([]string, *GlobalFlags) {
	flags := &GlobalFlags{}
	cleaned := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "--debug":
			flags.DebugTarget = "stdout"
		case strings.HasPrefix(arg, "--debug="):
			flags.DebugTarget = strings.TrimPrefix(arg, "--debug=")

		case arg == "--config-dir":
			if i+1 < len(args) {
				i++
				flags.ConfigDir = args[i]
			}
		case strings.HasPrefix(arg, "--config-dir="):
			flags.ConfigDir = strings.TrimPrefix(arg, "--config-dir=")

		case arg == "--url":
			if i+1 < len(args) {
				i++
				flags.DaemonURL = args[i]
			}
		case strings.HasPrefix(arg, "--url="):
			flags.DaemonURL = strings.TrimPrefix(arg, "--url=")

		case arg == "-h" || arg == "--help":
			flags.Help = true
			cleaned = append(cleaned, arg)

		default:
			cleaned = append(cleaned, arg)
		}
	}

	return cleaned, flags
}

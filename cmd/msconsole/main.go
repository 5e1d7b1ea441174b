// msconsole is the local control plane for the MS Console backend: it
// supervises the backend server process and bridges streaming chat
// exchanges between it and a UI surface.
package main

import (
	"fmt"
	"os"

	"github.com/msconsole/msconsole-go/internal/commands"
	"github.com/msconsole/msconsole-go/internal/logging"
)

var version = "dev"

func main() {
	args, flags := commands.ParseGlobalFlagsFromAnyPosition(os.Args[1:])

	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	closeLog, err := logging.Setup(flags.DebugTarget)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, err := commands.NewGlobalContext(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	subcommand := args[0]
	rest := args[1:]

	var cmdErr error
	switch subcommand {
	case "serve":
		cmdErr = commands.ServeCommand(ctx, rest)
	case "status":
		cmdErr = commands.StatusCommand(ctx, rest)
	case "start":
		cmdErr = commands.StartCommand(ctx, rest)
	case "stop":
		cmdErr = commands.StopCommand(ctx, rest)
	case "restart":
		cmdErr = commands.RestartCommand(ctx, rest)
	case "logs":
		cmdErr = commands.LogsCommand(ctx, rest)
	case "health":
		cmdErr = commands.HealthCommand(ctx, rest)
	case "chat":
		cmdErr = commands.ChatCommand(ctx, rest)
	case "models":
		cmdErr = commands.ModelsCommand(ctx, rest)
	case "test-connection":
		cmdErr = commands.TestConnectionCommand(ctx, rest)
	case "setup":
		cmdErr = commands.SetupCommand(ctx, rest)
	case "config":
		cmdErr = commands.ConfigCommand(ctx, rest)
	case "version":
		fmt.Printf("msconsole %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `msconsole - MS Console backend control plane

Usage:
  msconsole <command> [arguments]

Commands:
  serve             Run the control-plane daemon in the foreground
  status            Show backend state from the running daemon
  start             Start the backend via the daemon
  stop              Stop the backend via the daemon
  restart           Restart the backend via the daemon
  logs              Show recent backend output from the daemon
  health            Probe the backend health endpoint directly
  chat [message]    Stream a chat exchange (REPL without a message)
  models            List backend models; pick a default interactively
  test-connection   Ask the backend to verify its upstream connections
  setup             Configure credentials and connection settings
  config <sub>      show | path | set <key> <value>
  version           Print version

Global flags (any position):
  --debug[=file]    Debug logging to stderr or a file
  --config-dir dir  Override the configuration directory
  --url url         Control daemon URL (default http://127.0.0.1:8766)

Environment Variables:
  MSCONSOLE_CONFIG_DIR  Configuration directory (default ~/.msconsole)
  MSCONSOLE_URL         Control daemon URL
`)
}

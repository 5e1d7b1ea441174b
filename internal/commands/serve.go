package commands

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/msconsole/msconsole-go/daemon"
)

// ServeCommand runs the control-plane daemon in the foreground.
func ServeCommand(ctx *GlobalContext, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", daemon.DefaultListen, "Control API listen address (loopback)")
	noWatch := fs.Bool("no-watch", false, "Do not restart the backend on configuration changes")
	manifest := fs.String("manifest", "", "Path to the backend manifest (backend.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := daemon.New(daemon.Config{
		Listen:       *listen,
		ManifestPath: *manifest,
		Watch:        !*noWatch,
		Manager:      ctx.ConfigMgr,
		Logger:       slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("msconsole control plane on %s (Ctrl-C to stop)\n", *listen)
	return d.Run(runCtx)
}

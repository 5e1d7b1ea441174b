package commands

import (
	"context"
	"flag"
	"fmt"
	"time"

	msconsole "github.com/msconsole/msconsole-go"
	"github.com/msconsole/msconsole-go/internal/format"
)

// HealthCommand probes the backend's health endpoint directly, without
// going through the daemon.
func HealthCommand(ctx *GlobalContext, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	retries := fs.Int("retries", 4, "Retries after the first attempt")
	delay := fs.Duration("delay", time.Second, "Delay between attempts")
	port := fs.Int("port", 0, "Backend port (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := ctx.BackendClient()
	if *port > 0 {
		client = msconsole.New(msconsole.WithPort(*port))
	}

	res := client.ProbeHealth(context.Background(), *retries, *delay)
	if res.Ok() {
		fmt.Printf("%s backend healthy (%d attempt(s), %s)\n",
			format.Success("✓"), res.Attempts, res.Elapsed.Round(time.Millisecond))
		return nil
	}

	fmt.Printf("%s %s (%d attempt(s), %s)\n",
		format.Error("✗"), res.Err(), res.Attempts, res.Elapsed.Round(time.Millisecond))
	return fmt.Errorf("backend is not healthy")
}

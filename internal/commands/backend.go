package commands

import (
	"fmt"

	"github.com/msconsole/msconsole-go/daemon"
	"github.com/msconsole/msconsole-go/internal/format"
)

// StartCommand asks the daemon to start the backend.
func StartCommand(ctx *GlobalContext, args []string) error {
	return backendOp(ctx, "/api/backend/start")
}

// StopCommand asks the daemon to stop the backend.
func StopCommand(ctx *GlobalContext, args []string) error {
	return backendOp(ctx, "/api/backend/stop")
}

// RestartCommand asks the daemon to restart the backend.
func RestartCommand(ctx *GlobalContext, args []string) error {
	return backendOp(ctx, "/api/backend/restart")
}

func backendOp(ctx *GlobalContext, path string) error {
	var st daemon.StatusResponse
	if err := ctx.daemonPost(path, nil, &st); err != nil {
		return err
	}
	fmt.Printf("backend is %s\n", format.State(st.Backend.State.String()))
	return nil
}

// LogsCommand prints the backend's recent output retained by the daemon.
func LogsCommand(ctx *GlobalContext, args []string) error {
	var logs daemon.LogsResponse
	if err := ctx.daemonGet("/api/backend/logs", &logs); err != nil {
		return err
	}

	if len(logs.Lines) == 0 {
		fmt.Println("no backend output retained")
		return nil
	}
	for _, line := range logs.Lines {
		fmt.Println(line)
	}
	return nil
}

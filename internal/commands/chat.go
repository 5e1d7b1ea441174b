package commands

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/term"

	msconsole "github.com/msconsole/msconsole-go"
	"github.com/msconsole/msconsole-go/internal/format"
)

// ChatCommand streams a chat exchange with the backend, printing events as
// they arrive. With a message argument it runs one turn; with a terminal
// and no argument it becomes a line REPL carrying conversation history.
// Ctrl-C cancels the in-flight stream; a second Ctrl-C exits.
func ChatCommand(ctx *GlobalContext, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	model := fs.String("m", "", "Model override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *model == "" {
		*model = ctx.ConfigMgr.Model()
	}

	client := ctx.BackendClient()
	reg := msconsole.NewRegistry(client)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for range sigCh {
			if reg.Cancel().Cancelled {
				fmt.Println(format.Dim("\n(cancelled)"))
				continue
			}
			// Nothing in flight: exit
			os.Exit(130)
		}
	}()

	if msg := strings.Join(fs.Args(), " "); msg != "" {
		res, _ := streamTurn(reg, msconsole.ChatRequest{Message: msg, Model: *model})
		if !res.Success && res.Error != "cancelled" {
			return fmt.Errorf("chat failed: %s", res.Error)
		}
		return nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("no message given and stdin is not a terminal")
	}

	// Plain line REPL
	fmt.Println(format.Dim("msconsole chat — empty line or Ctrl-D to exit"))
	var history []msconsole.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			return nil
		}

		res, reply := streamTurn(reg, msconsole.ChatRequest{
			Message: msg,
			History: history,
			Model:   *model,
		})
		if res.Success {
			history = append(history,
				msconsole.Message{Role: "user", Content: msg},
				msconsole.Message{Role: "assistant", Content: reply},
			)
		}
	}
}

// streamTurn runs one streamed exchange, rendering events as they arrive.
// It returns the resolution and the final response text.
func streamTurn(reg *msconsole.Registry, req msconsole.ChatRequest) (msconsole.StreamResult, string) {
	var finalText string
	sawToken := false

	res := reg.StreamChat(context.Background(), req, func(ev msconsole.Event) {
		switch e := ev.(type) {
		case *msconsole.TokenEvent:
			sawToken = true
			fmt.Print(e.Content)
		case *msconsole.ToolCallStartEvent:
			fmt.Println(format.Dim(fmt.Sprintf("→ %s %s", e.ToolName, compactJSON(e.Arguments))))
		case *msconsole.ToolCallEndEvent:
			fmt.Println(format.Dim(fmt.Sprintf("← %s: %s", e.ToolID, truncate(e.Result, 120))))
		case *msconsole.DoneEvent:
			finalText = e.Content
			if !sawToken && e.Content != "" {
				fmt.Print(e.Content)
			}
		case *msconsole.ErrorEvent:
			fmt.Println(format.Error("error: " + e.Message))
		}
	})

	fmt.Println()
	return res, finalText
}

func compactJSON(raw []byte) string {
	return truncate(strings.Join(strings.Fields(string(raw)), " "), 80)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

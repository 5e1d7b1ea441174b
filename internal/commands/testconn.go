package commands

import (
	"context"
	"fmt"

	"github.com/msconsole/msconsole-go/internal/format"
)

// TestConnectionCommand asks the backend to verify its upstream
// connections and prints per-service results.
func TestConnectionCommand(ctx *GlobalContext, args []string) error {
	client := ctx.BackendClient()

	fmt.Println("Testing backend connections...")
	res, err := client.TestConnection(context.Background())
	if err != nil {
		return err
	}

	if res.Results != nil {
		fmt.Printf("%s openai: %s\n", format.Check(res.Results.OpenAI.Success), res.Results.OpenAI.Message)
		fmt.Printf("%s database: %s\n", format.Check(res.Results.Database.Success), res.Results.Database.Message)
	}
	if res.Error != "" {
		fmt.Printf("%s %s\n", format.Error("✗"), res.Error)
	}

	if !res.Success {
		return fmt.Errorf("connection test failed")
	}
	return nil
}

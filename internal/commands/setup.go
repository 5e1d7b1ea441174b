package commands

import (
	"fmt"

	"github.com/msconsole/msconsole-go/config"
	"github.com/msconsole/msconsole-go/internal/format"
	"github.com/msconsole/msconsole-go/internal/prompts"
)

// SetupCommand walks through the connection settings interactively and
// persists them, storing the API key in the OS keychain when available.
func SetupCommand(ctx *GlobalContext, args []string) error {
	current := ctx.ConfigMgr.Get()
	currentKey, _ := ctx.ConfigMgr.APIKey()

	values, err := prompts.RunSetupForm(current, currentKey)
	if err != nil {
		return err
	}

	if values.APIKey != "" && values.APIKey != currentKey {
		if err := ctx.ConfigMgr.SetAPIKey(values.APIKey); err != nil {
			return fmt.Errorf("failed to store API key: %w", err)
		}
	}

	if err := ctx.ConfigMgr.Update(func(c *config.Config) {
		c.Model = values.Model
		c.BackendPort = values.BackendPort
		c.Database = values.Database
	}); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("%s configuration saved to %s\n", format.Success("✓"), ctx.ConfigMgr.Path())
	if values.APIKey != "" {
		fmt.Printf("  API key: %s\n", config.Redact(values.APIKey))
	}
	return nil
}

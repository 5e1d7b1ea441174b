package commands

import (
	"fmt"
	"strconv"

	"github.com/msconsole/msconsole-go/config"
)

// ConfigCommand dispatches the config subcommands: show, path, set.
func ConfigCommand(ctx *GlobalContext, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("config requires a subcommand: show, path, or set")
	}

	switch args[0] {
	case "show":
		return configShow(ctx)
	case "path":
		fmt.Println(ctx.ConfigMgr.Path())
		return nil
	case "set":
		return configSet(ctx, args[1:])
	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

// configShow prints the configuration with credentials redacted.
func configShow(ctx *GlobalContext) error {
	cfg := ctx.ConfigMgr.Get()
	apiKey, _ := ctx.ConfigMgr.APIKey()

	fmt.Printf("model:          %s\n", orUnset(cfg.Model))
	fmt.Printf("backend_port:   %d\n", ctx.ConfigMgr.BackendPort())
	fmt.Printf("api_key:        %s\n", config.Redact(apiKey))
	fmt.Printf("mysql_host:     %s\n", orUnset(cfg.Database.Host))
	if cfg.Database.Port > 0 {
		fmt.Printf("mysql_port:     %d\n", cfg.Database.Port)
	} else {
		fmt.Printf("mysql_port:     <unset>\n")
	}
	fmt.Printf("mysql_username: %s\n", orUnset(cfg.Database.Username))
	fmt.Printf("mysql_password: %s\n", config.Redact(cfg.Database.Password))
	fmt.Printf("mysql_database: %s\n", orUnset(cfg.Database.Database))
	if cfg.ManifestPath != "" {
		fmt.Printf("manifest_path:  %s\n", cfg.ManifestPath)
	}
	if cfg.Interpreter != "" {
		fmt.Printf("interpreter:    %s\n", cfg.Interpreter)
	}
	if cfg.UsePTY {
		fmt.Printf("use_pty:        true\n")
	}
	return nil
}

// configSet updates one non-secret field. Secrets go through setup, which
// prefers the keychain.
func configSet(ctx *GlobalContext, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: config set <key> <value>")
	}
	key, value := args[0], args[1]

	switch key {
	case "model", "backend_port", "mysql_host", "mysql_port", "mysql_username",
		"mysql_database", "manifest_path", "interpreter", "use_pty":
	default:
		return fmt.Errorf("unknown or secret config key %q (secrets are set via 'msconsole setup')", key)
	}

	return ctx.ConfigMgr.Update(func(c *config.Config) {
		switch key {
		case "model":
			c.Model = value
		case "backend_port":
			c.BackendPort = atoi(value)
		case "mysql_host":
			c.Database.Host = value
		case "mysql_port":
			c.Database.Port = atoi(value)
		case "mysql_username":
			c.Database.Username = value
		case "mysql_database":
			c.Database.Database = value
		case "manifest_path":
			c.ManifestPath = value
		case "interpreter":
			c.Interpreter = value
		case "use_pty":
			c.UsePTY = value == "true"
		}
	})
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func orUnset(s string) string {
	if s == "" {
		return "<unset>"
	}
	return s
}

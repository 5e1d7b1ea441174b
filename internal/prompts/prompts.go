// Package prompts holds the interactive forms used by the setup flow.
package prompts

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/msconsole/msconsole-go/config"
)

// isInteractiveTerminal checks if we're running in an interactive terminal
func isInteractiveTerminal() bool {
	if fileInfo, _ := os.Stdin.Stat(); (fileInfo.Mode() & os.ModeCharDevice) == 0 {
		return false
	}
	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) == 0 {
		return false
	}
	return true
}

// configureForm applies common accessibility and theming settings to a form
func configureForm(form *huh.Form) *huh.Form {
	accessibleMode := os.Getenv("ACCESSIBLE") != "" || !isInteractiveTerminal()
	form = form.WithAccessible(accessibleMode)

	if os.Getenv("NO_COLOR") != "" {
		form = form.WithTheme(huh.ThemeBase())
	}

	return form
}

// SetupValues are the answers collected by the setup form.
type SetupValues struct {
	APIKey      string
	Model       string
	BackendPort int
	Database    config.Database
}

// RunSetupForm collects connection settings interactively. Existing values
// are offered as defaults; the API key field is masked.
func RunSetupForm(current config.Config, currentKey string) (*SetupValues, error) {
	v := &SetupValues{
		APIKey:   currentKey,
		Model:    current.Model,
		Database: current.Database,
	}

	port := ""
	if current.BackendPort > 0 {
		port = strconv.Itoa(current.BackendPort)
	}
	dbPort := ""
	if current.Database.Port > 0 {
		dbPort = strconv.Itoa(current.Database.Port)
	}

	keyTitle := "OpenAI API key"
	if currentKey != "" {
		keyTitle = fmt.Sprintf("OpenAI API key (current: %s)", config.Redact(currentKey))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(keyTitle).
				EchoMode(huh.EchoModePassword).
				Value(&v.APIKey),
			huh.NewInput().
				Title("Default model").
				Placeholder("gpt-5.2").
				Value(&v.Model),
			huh.NewInput().
				Title("Backend port").
				Placeholder(strconv.Itoa(config.DefaultBackendPort)).
				Value(&port).
				Validate(validatePort),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("MySQL host").
				Placeholder("127.0.0.1").
				Value(&v.Database.Host),
			huh.NewInput().
				Title("MySQL port").
				Placeholder("3306").
				Value(&dbPort).
				Validate(validatePort),
			huh.NewInput().
				Title("MySQL username").
				Value(&v.Database.Username),
			huh.NewInput().
				Title("MySQL password").
				EchoMode(huh.EchoModePassword).
				Value(&v.Database.Password),
			huh.NewInput().
				Title("MySQL database").
				Value(&v.Database.Database),
		),
	)

	if err := configureForm(form).Run(); err != nil {
		return nil, fmt.Errorf("setup cancelled: %w", err)
	}

	if p := strings.TrimSpace(port); p != "" {
		v.BackendPort, _ = strconv.Atoi(p)
	}
	if p := strings.TrimSpace(dbPort); p != "" {
		v.Database.Port, _ = strconv.Atoi(p)
	}

	return v, nil
}

func validatePort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

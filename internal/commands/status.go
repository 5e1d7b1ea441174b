package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/msconsole/msconsole-go/daemon"
	"github.com/msconsole/msconsole-go/internal/format"
)

// StatusCommand reports the supervisor snapshot from the running daemon.
func StatusCommand(ctx *GlobalContext, args []string) error {
	var st daemon.StatusResponse
	if err := ctx.daemonGet("/api/status", &st); err != nil {
		return err
	}

	// Plain output when piped
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("state=%s pid=%d port=%d model=%s\n",
			st.Backend.State.String(), st.Backend.PID, st.Backend.Port, st.Config.Model)
		return nil
	}

	rows := [][]string{
		{"State", format.State(st.Backend.State.String())},
		{"Port", strconv.Itoa(st.Backend.Port)},
		{"Model", st.Config.Model},
		{"API key", st.Config.APIKey},
	}
	if st.Backend.PID > 0 {
		rows = append(rows, []string{"PID", strconv.Itoa(st.Backend.PID)})
	}
	if st.Backend.StartedAt != nil {
		rows = append(rows, []string{"Uptime", formatDuration(time.Since(*st.Backend.StartedAt))})
	}
	if st.Backend.LastExitCode != nil {
		rows = append(rows, []string{"Last exit", strconv.Itoa(*st.Backend.LastExitCode)})
	}
	if st.Backend.LastHealth != "" {
		rows = append(rows, []string{"Last health", st.Backend.LastHealth})
	}
	if st.Config.DatabaseHost != "" {
		rows = append(rows, []string{"Database", st.Config.DatabaseHost + "/" + st.Config.DatabaseName})
	}

	t := table.New().
		Rows(rows...).
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return lipgloss.NewStyle().Bold(true).PaddingRight(1)
			}
			return lipgloss.NewStyle()
		})

	fmt.Println(t)
	return nil
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	msconsole "github.com/msconsole/msconsole-go"
	"github.com/msconsole/msconsole-go/internal/format"
)

// ModelsCommand lists the backend's models. On a terminal it runs an
// interactive picker and saves the selection as the default model; when
// piped it prints a plain list.
func ModelsCommand(ctx *GlobalContext, args []string) error {
	client := ctx.BackendClient()
	models, err := client.Models(context.Background())
	if err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		for _, m := range models.Models {
			fmt.Println(m.ID)
		}
		return nil
	}

	if len(models.Models) == 0 {
		fmt.Println("backend offers no models")
		return nil
	}

	current := ctx.ConfigMgr.Model()
	if current == "" {
		current = models.Default
	}

	m := newModelPickerModel(models.Models, current)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return fmt.Errorf("model selection failed: %w", err)
	}

	picked := final.(modelPickerModel).selected
	if picked == nil {
		return nil
	}

	if err := ctx.ConfigMgr.SetModel(picked.ID); err != nil {
		return fmt.Errorf("failed to save model choice: %w", err)
	}
	fmt.Printf("%s default model set to %s\n", format.Success("✓"), format.Model(picked.ID))
	return nil
}

var (
	pickerNormalStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	pickerSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("230")).
				Background(lipgloss.Color("62")).
				Bold(true)

	pickerCurrentStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82"))

	pickerHelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)

// modelPickerModel is the bubbletea model for model selection
type modelPickerModel struct {
	models   []msconsole.ModelInfo
	current  string
	cursor   int
	selected *msconsole.ModelInfo
	quit     bool
}

func newModelPickerModel(models []msconsole.ModelInfo, current string) modelPickerModel {
	m := modelPickerModel{models: models, current: current}
	for i, mi := range models {
		if mi.ID == current {
			m.cursor = i
			break
		}
	}
	return m
}

func (m modelPickerModel) Init() tea.Cmd {
	return nil
}

func (m modelPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quit = true
			return m, tea.Quit

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.cursor < len(m.models)-1 {
				m.cursor++
			}

		case "enter", " ":
			if m.cursor < len(m.models) {
				m.selected = &m.models[m.cursor]
				return m, tea.Quit
			}
		}
	}

	return m, nil
}

func (m modelPickerModel) View() string {
	var b strings.Builder

	b.WriteString("Select a default model:\n\n")

	for i, mi := range m.models {
		name := mi.ID
		if mi.Name != "" && mi.Name != mi.ID {
			name = fmt.Sprintf("%s  (%s)", mi.ID, mi.Name)
		}
		if mi.ID == m.current {
			name += pickerCurrentStyle.Render("  • current")
		}

		if i == m.cursor && !m.quit && m.selected == nil {
			b.WriteString(pickerSelectedStyle.Render(" → "+name) + "\n")
		} else {
			b.WriteString(pickerNormalStyle.Render("   "+name) + "\n")
		}
	}

	if !m.quit && m.selected == nil {
		b.WriteString(pickerHelpStyle.Render("↑/k up • ↓/j down • enter select • q/esc cancel"))
	}

	return b.String()
}

package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the dashboard and blocks until the user quits. Previews keep
// running on the server after the dashboard exits.
func Run(api API) error {
	p := tea.NewProgram(newModel(api), tea.WithAltScreen())
	result, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	if final, ok := result.(model); ok && final.stream != nil {
		final.stream.cancel()
	}
	fmt.Println("Goodbye! (previews keep running until they expire; use /stop to end them sooner)")
	return nil
}

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/zpdzap/codelive/internal/preview"
)

func (m model) View() string {
	if m.quitting {
		return ""
	}

	title := "codelive"
	stats := dimStyle.Render(m.stats())
	gap := max(1, m.width-lipgloss.Width(title)-lipgloss.Width(stats)-4)
	header := headerStyle.Width(m.width).Render(title + strings.Repeat(" ", gap) + stats)

	var view string
	if len(m.rows) == 0 {
		view = m.renderEmptyState(header)
	} else {
		view = m.renderSplitView(header)
	}
	if m.showHelp {
		return m.renderHelpOverlay(view)
	}
	return view
}

func (m model) stats() string {
	live := 0
	for _, row := range m.rows {
		if row.live() {
			live++
		}
	}
	return fmt.Sprintf("%d app%s  %d preview%s", len(m.rows), plural(len(m.rows)), live, plural(live))
}

func (m model) renderEmptyState(header string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(dividerStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	if m.loaded {
		b.WriteString(emptyStyle.Render("No apps yet. Create one with `codelive apps create <name>`."))
	} else {
		b.WriteString(emptyStyle.Render("Connecting..."))
	}
	b.WriteString("\n\n")

	if m.commanding {
		b.WriteString(hotkeysStyle.Render("[enter] execute  [esc] cancel"))
	} else {
		b.WriteString(hotkeysStyle.Render("[?] help  [q] quit"))
	}
	b.WriteString("\n")
	b.WriteString(dividerStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	m.renderStatusAndInput(&b)
	return b.String()
}

func (m model) renderSplitView(header string) string {
	var b strings.Builder

	b.WriteString(header)
	b.WriteString("\n")

	for i, row := range m.rows {
		b.WriteString(m.renderRow(i, row))
		b.WriteString("\n")
	}

	b.WriteString(dividerStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	// header, rows, two dividers, hotkeys, status, optional input
	footerLines := 4
	if m.commanding {
		footerLines++
	}
	paneHeight := max(3, m.height-1-len(m.rows)-1-footerLines)
	b.WriteString(m.renderPane(paneHeight))

	b.WriteString(dividerStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	switch {
	case m.commanding:
		b.WriteString(hotkeysStyle.Render("[enter] execute  [esc] cancel"))
	case m.confirmStop:
		b.WriteString(confirmStyle.Render("Stop preview? Press x again to confirm, any other key to cancel"))
	case m.pane != "":
		b.WriteString(hotkeysStyle.Render("[esc] back to logs  [c]ommit  [?] help"))
	default:
		b.WriteString(hotkeysStyle.Render("[↑↓] select  [p]review  [x] stop  [d]iff  [c]ommit  [D]eploy  [?] help"))
	}
	b.WriteString("\n")

	m.renderStatusAndInput(&b)
	return b.String()
}

func (m model) renderRow(index int, row appRow) string {
	cursor := "  "
	nStyle := nameStyle
	if index == m.cursor {
		cursor = "▸ "
		nStyle = selectedNameStyle
	}

	icon, iStyle := previewIcon(row.preview)
	parts := []string{fmt.Sprintf("  %s%s %s", cursor, iStyle.Render(icon), nStyle.Render(row.app.Name))}

	if busy, ok := m.busy[row.app.ExternalID]; ok {
		parts = append(parts, statusCreating.Render(busy+"..."))
	} else if row.preview != nil {
		parts = append(parts, iStyle.Render(string(row.preview.Status)))
		if row.live() {
			parts = append(parts, urlStyle.Render(row.preview.URL))
		}
	}
	return strings.Join(parts, "  ")
}

// previewIcon returns the status icon and style for an app's preview.
func previewIcon(p *preview.Preview) (string, lipgloss.Style) {
	if p == nil {
		return "○", statusNone
	}
	switch p.Status {
	case preview.StatusReady:
		return "●", statusReady
	case preview.StatusCreating:
		return "◌", statusCreating
	case preview.StatusError:
		return "✗", statusError
	default:
		return "○", statusNone
	}
}

func (m model) renderPane(height int) string {
	if m.pane != "" {
		return m.renderLines(strings.Split(strings.TrimRight(m.pane, "\n"), "\n"), height, false)
	}

	row, ok := m.selected()
	switch {
	case !ok:
		return m.renderPlaceholder("No app selected", height)
	case row.preview == nil:
		return m.renderPlaceholder("No preview. Press p to start one.", height)
	}

	lines := m.logs[row.preview.ID]
	if len(lines) == 0 && row.preview.Status == preview.StatusError && row.preview.Error != "" {
		return m.renderPlaceholder(row.preview.Error, height)
	}
	if len(lines) == 0 {
		return m.renderPlaceholder("Waiting for output...", height)
	}
	return m.renderLines(lines, height, true)
}

func (m model) renderPlaceholder(text string, height int) string {
	var b strings.Builder
	b.WriteString(logEmptyStyle.Render(text))
	b.WriteString("\n")
	for i := 1; i < height; i++ {
		b.WriteString("\n")
	}
	return b.String()
}

// renderLines fits lines into height rows. Logs keep their tail, panes
// their head.
func (m model) renderLines(lines []string, height int, tail bool) string {
	if len(lines) > height {
		if tail {
			lines = lines[len(lines)-height:]
		} else {
			lines = lines[:height]
		}
	}

	var b strings.Builder
	for _, line := range lines {
		if m.width > 4 && lipgloss.Width(line) > m.width-4 {
			line = ansi.Truncate(line, m.width-4, "")
		}
		b.WriteString(logStyle.Render(line))
		b.WriteString("\n")
	}
	for i := len(lines); i < height; i++ {
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderStatusAndInput(b *strings.Builder) {
	if m.message != "" {
		if m.isError {
			b.WriteString(errorStyle.Render(m.message))
		} else {
			b.WriteString(messageStyle.Render(m.message))
		}
		b.WriteString("\n")
	}
	if m.commanding {
		b.WriteString("  ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
}

func (m model) renderHelpOverlay(base string) string {
	help := strings.Join([]string{
		helpHeaderStyle.Render("Navigation"),
		helpKeyStyle.Render("  ↑/k  ↓/j") + helpDescStyle.Render("   Select app"),
		helpKeyStyle.Render("  esc") + helpDescStyle.Render("         Back to logs"),
		"",
		helpHeaderStyle.Render("Actions"),
		helpKeyStyle.Render("  p") + helpDescStyle.Render("           Start a preview"),
		helpKeyStyle.Render("  x") + helpDescStyle.Render("           Stop the preview (press twice)"),
		helpKeyStyle.Render("  d") + helpDescStyle.Render("           Changed files"),
		helpKeyStyle.Render("  c") + helpDescStyle.Render("           Commit changes"),
		helpKeyStyle.Render("  D") + helpDescStyle.Render("           Deploy to Modal"),
		"",
		helpHeaderStyle.Render("Commands"),
		helpKeyStyle.Render("  /") + helpDescStyle.Render("           Open command bar"),
		helpDescStyle.Render("  /preview"),
		helpDescStyle.Render("  /stop [all]"),
		helpDescStyle.Render("  /deploy [modal|docker]"),
		helpDescStyle.Render("  /diff [full]"),
		helpDescStyle.Render("  /commit [message]"),
		"",
		helpKeyStyle.Render("  q") + helpDescStyle.Render("  quit") + "     " + helpKeyStyle.Render("?") + helpDescStyle.Render("  close this help"),
	}, "\n")

	modal := helpStyle.Render(help)

	// Center the modal over the base view
	modalWidth := lipgloss.Width(modal)
	modalHeight := lipgloss.Height(modal)
	xOffset := max(0, (m.width-modalWidth)/2)
	yOffset := max(0, (m.height-modalHeight)/2)

	baseLines := strings.Split(base, "\n")
	for i, mLine := range strings.Split(modal, "\n") {
		row := yOffset + i
		if row >= len(baseLines) {
			break
		}
		baseLines[row] = strings.Repeat(" ", xOffset) + mLine + strings.Repeat(" ", max(0, m.width-xOffset-lipgloss.Width(mLine)))
	}
	return strings.Join(baseLines, "\n")
}

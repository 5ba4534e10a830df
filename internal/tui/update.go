package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/zpdzap/codelive/internal/client"
	"github.com/zpdzap/codelive/internal/preview"
)

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 6 // account for "  > /" prefix
		return m, nil

	case statusTickMsg:
		return m, tea.Batch(refreshCmd(m.api), tickCmd())

	case refreshedMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Refresh failed: %v", msg.err)
			m.isError = true
			return m, nil
		}
		m.rows = msg.rows
		m.loaded = true
		if m.cursor >= len(m.rows) {
			m.cursor = max(0, len(m.rows)-1)
		}
		return m, m.syncStream()

	case previewStartedMsg:
		delete(m.busy, msg.appID)
		if msg.err != nil {
			m.message = fmt.Sprintf("Preview failed: %v", msg.err)
			m.isError = true
		} else {
			m.message = fmt.Sprintf("Preview starting at %s", msg.preview.URL)
			m.isError = false
			m.setPreview(msg.appID, msg.preview)
		}
		return m, tea.Batch(m.syncStream(), refreshCmd(m.api))

	case previewStoppedMsg:
		delete(m.busy, msg.appID)
		if msg.err != nil {
			m.message = fmt.Sprintf("Stop failed: %v", msg.err)
			m.isError = true
		} else {
			m.message = fmt.Sprintf("Stopped %d preview%s", msg.count, plural(msg.count))
			m.isError = false
		}
		return m, refreshCmd(m.api)

	case deployedMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Deploy failed: %v", msg.err)
			m.isError = true
		} else {
			m.message = fmt.Sprintf("[%s] deployed to %s", msg.name, msg.deployment.URL)
			m.isError = false
		}
		return m, nil

	case committedMsg:
		switch {
		case msg.err != nil:
			m.message = fmt.Sprintf("Commit failed: %v", msg.err)
			m.isError = true
		case !msg.ok:
			m.message = fmt.Sprintf("[%s] Nothing to commit", msg.name)
			m.isError = false
		default:
			m.message = fmt.Sprintf("[%s] committed %s %s", msg.name, shortSHA(msg.commit.SHA), msg.commit.Message)
			m.isError = false
		}
		return m, nil

	case changesMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("diff error: %v", msg.err)
			m.isError = true
			return m, nil
		}
		m.pane = renderDiffTree(msg.name, msg.changes)
		return m, nil

	case diffMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("diff error: %v", msg.err)
			m.isError = true
			return m, nil
		}
		if strings.TrimSpace(msg.diff) == "" {
			m.pane = fmt.Sprintf("[%s] No changes yet", msg.name)
		} else {
			m.pane = msg.diff
		}
		return m, nil

	case streamOpenedMsg:
		if m.opening == msg.previewID {
			m.opening = ""
		}
		if msg.err != nil {
			return m, nil
		}
		row, ok := m.selected()
		if !ok || row.preview == nil || row.preview.ID != msg.previewID {
			msg.stream.cancel()
			return m, nil
		}
		m.stream = msg.stream
		m.logs[msg.previewID] = nil // the stream replays the backlog
		return m, waitForLine(m.stream)

	case logLineMsg:
		lines := append(m.logs[msg.previewID], msg.line)
		if len(lines) > maxLogLines {
			lines = lines[len(lines)-maxLogLines:]
		}
		m.logs[msg.previewID] = lines
		if m.stream != nil && m.stream.previewID == msg.previewID {
			return m, waitForLine(m.stream)
		}
		return m, nil

	case streamClosedMsg:
		if m.stream != nil && m.stream.previewID == msg.previewID {
			m.stream = nil
		}
		return m, nil

	case confirmStopExpiredMsg:
		m.confirmStop = false
		m.confirmStopID = ""
		return m, nil

	case tea.KeyMsg:
		if m.commanding {
			return m.handleCommandMode(msg)
		}
		return m.handleNormalMode(msg)
	}

	// Forward to input if in command mode
	if m.commanding {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// setPreview records p as the app's latest preview ahead of the next refresh.
func (m *model) setPreview(appID string, p preview.Preview) {
	for i := range m.rows {
		if m.rows[i].app.ExternalID == appID {
			m.rows[i].preview = &p
		}
	}
}

// syncStream makes sure the log stream follows the selected app's live
// preview, opening or closing it as the selection changes.
func (m *model) syncStream() tea.Cmd {
	row, ok := m.selected()
	if !ok || !row.live() {
		m.closeStream()
		return nil
	}
	id := row.preview.ID
	if (m.stream != nil && m.stream.previewID == id) || m.opening == id {
		return nil
	}
	m.closeStream()
	m.opening = id
	return openStreamCmd(m.api, row.app.ExternalID, id)
}

func (m *model) closeStream() {
	if m.stream != nil {
		m.stream.cancel()
		m.stream = nil
	}
}

// handleNormalMode handles keys when navigating the app list.
func (m model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Dismiss help modal
	if m.showHelp {
		if msg.String() == "?" || msg.String() == "esc" {
			m.showHelp = false
			return m, nil
		}
		// While help is showing, ignore other keys
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}

	// If confirming a stop, second x confirms, anything else cancels
	if m.confirmStop {
		m.confirmStop = false
		appID := m.confirmStopID
		m.confirmStopID = ""
		if msg.String() == "x" {
			for _, row := range m.rows {
				if row.app.ExternalID == appID {
					return m.stopPreviews([]appRow{row})
				}
			}
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit

	case "/":
		m.commanding = true
		m.input.Focus()
		m.input.SetValue("")
		return m, textinput.Blink

	case "esc":
		m.pane = ""
		return m, nil

	case "p":
		return m.startPreview()

	case "x":
		row, ok := m.selected()
		if ok && row.live() {
			m.confirmStop = true
			m.confirmStopID = row.app.ExternalID
			return m, tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
				return confirmStopExpiredMsg{}
			})
		}
		return m, nil

	case "d":
		return m.showChanges()

	case "c":
		return m.commit("")

	case "D":
		return m.deploy("modal")

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		} else if len(m.rows) > 0 {
			m.cursor = len(m.rows) - 1
		}
		m.pane = ""
		return m, m.syncStream()

	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
		m.pane = ""
		return m, m.syncStream()
	}

	return m, nil
}

// handleCommandMode handles keys when the command input is active.
func (m model) handleCommandMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "esc":
		m.commanding = false
		m.input.Blur()
		m.input.SetValue("")
		return m, nil

	case "enter":
		m.commanding = false
		m.input.Blur()
		return m.processInput()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) processInput() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if input == "" {
		return m, nil
	}
	// Allow commands with or without the / prefix
	if input[0] != '/' {
		input = "/" + input
	}
	cmd, err := ParseCommand(input)
	if err != nil {
		m.message = err.Error()
		m.isError = true
		return m, nil
	}

	switch cmd.Name {
	case "preview":
		return m.startPreview()

	case "stop":
		if cmd.Arg(0) == "all" {
			var live []appRow
			for _, row := range m.rows {
				if row.live() {
					live = append(live, row)
				}
			}
			if len(live) == 0 {
				m.message = "No previews to stop"
				m.isError = false
				return m, nil
			}
			return m.stopPreviews(live)
		}
		row, ok := m.selected()
		if !ok || !row.live() {
			m.message = "Selected app has no running preview"
			m.isError = true
			return m, nil
		}
		return m.stopPreviews([]appRow{row})

	case "deploy":
		provider := cmd.Arg(0)
		if provider == "" {
			provider = "modal"
		}
		return m.deploy(provider)

	case "diff":
		if cmd.Arg(0) == "full" {
			return m.showDiff()
		}
		return m.showChanges()

	case "commit":
		return m.commit(cmd.Text)

	case "quit":
		m.quitting = true
		return m, tea.Quit

	default:
		m.message = fmt.Sprintf("Unknown command: /%s", cmd.Name)
		m.isError = true
		return m, nil
	}
}

func (m model) noSelection() (tea.Model, tea.Cmd) {
	m.message = "No app selected"
	m.isError = true
	return m, nil
}

func (m model) startPreview() (tea.Model, tea.Cmd) {
	row, ok := m.selected()
	if !ok {
		return m.noSelection()
	}
	appID := row.app.ExternalID
	if _, busy := m.busy[appID]; busy {
		return m, nil
	}
	if row.live() {
		m.message = fmt.Sprintf("[%s] preview already running at %s", row.app.Name, row.preview.URL)
		m.isError = false
		return m, nil
	}
	m.busy[appID] = "starting preview"
	m.message = fmt.Sprintf("[%s] Installing dependencies and starting dev server...", row.app.Name)
	m.isError = false
	api := m.api
	return m, func() tea.Msg {
		p, err := api.CreatePreview(context.Background(), appID, client.PreviewRequest{})
		return previewStartedMsg{appID: appID, preview: p, err: err}
	}
}

func (m model) stopPreviews(rows []appRow) (tea.Model, tea.Cmd) {
	api := m.api
	type target struct{ appID, previewID string }
	var targets []target
	for _, row := range rows {
		if row.preview == nil {
			continue
		}
		m.busy[row.app.ExternalID] = "stopping"
		targets = append(targets, target{row.app.ExternalID, row.preview.ID})
	}
	m.message = fmt.Sprintf("Stopping %d preview%s...", len(targets), plural(len(targets)))
	m.isError = false
	appID := ""
	if len(targets) == 1 {
		appID = targets[0].appID
	}
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		for _, t := range targets {
			if err := api.DeletePreview(ctx, t.appID, t.previewID); err != nil {
				return previewStoppedMsg{appID: t.appID, err: err}
			}
		}
		return previewStoppedMsg{appID: appID, count: len(targets)}
	}
}

func (m model) deploy(provider string) (tea.Model, tea.Cmd) {
	row, ok := m.selected()
	if !ok {
		return m.noSelection()
	}
	m.message = fmt.Sprintf("[%s] deploying to %s...", row.app.Name, provider)
	m.isError = false
	api, appID, name := m.api, row.app.ExternalID, row.app.Name
	return m, func() tea.Msg {
		d, err := api.Deploy(context.Background(), appID, provider)
		return deployedMsg{name: name, deployment: d, err: err}
	}
}

func (m model) showChanges() (tea.Model, tea.Cmd) {
	row, ok := m.selected()
	if !ok {
		return m.noSelection()
	}
	api, appID, name := m.api, row.app.ExternalID, row.app.Name
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		changes, err := api.Changes(ctx, appID)
		return changesMsg{name: name, changes: changes, err: err}
	}
}

func (m model) showDiff() (tea.Model, tea.Cmd) {
	row, ok := m.selected()
	if !ok {
		return m.noSelection()
	}
	api, appID, name := m.api, row.app.ExternalID, row.app.Name
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		diff, err := api.Diff(ctx, appID)
		return diffMsg{name: name, diff: diff, err: err}
	}
}

func (m model) commit(message string) (tea.Model, tea.Cmd) {
	row, ok := m.selected()
	if !ok {
		return m.noSelection()
	}
	api, appID, name := m.api, row.app.ExternalID, row.app.Name
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		c, ok, err := api.Commit(ctx, appID, message)
		return committedMsg{name: name, commit: c, ok: ok, err: err}
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

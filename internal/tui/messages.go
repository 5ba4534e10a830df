package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zpdzap/codelive/internal/git"
	"github.com/zpdzap/codelive/internal/preview"
	"github.com/zpdzap/codelive/internal/store"
)

const requestTimeout = 10 * time.Second

// refreshedMsg carries the app list with each app's latest preview.
type refreshedMsg struct {
	rows []appRow
	err  error
}

type previewStartedMsg struct {
	appID   string
	preview preview.Preview
	err     error
}

type previewStoppedMsg struct {
	appID string
	count int
	err   error
}

type deployedMsg struct {
	name       string
	deployment store.Deployment
	err        error
}

type committedMsg struct {
	name   string
	commit git.Commit
	ok     bool
	err    error
}

type changesMsg struct {
	name    string
	changes []git.Change
	err     error
}

type diffMsg struct {
	name string
	diff string
	err  error
}

type streamOpenedMsg struct {
	previewID string
	stream    *logStream
	err       error
}

type logLineMsg struct {
	previewID string
	line      string
}

type streamClosedMsg struct {
	previewID string
}

type confirmStopExpiredMsg struct{}

// statusTickMsg triggers a status refresh poll.
type statusTickMsg time.Time

// tickCmd returns a command that sends a tick every 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

func refreshCmd(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		apps, err := api.ListApps(ctx)
		if err != nil {
			return refreshedMsg{err: err}
		}
		rows := make([]appRow, 0, len(apps))
		for _, a := range apps {
			row := appRow{app: a}
			if ps, err := api.ListPreviews(ctx, a.ExternalID); err == nil && len(ps) > 0 {
				latest := ps[len(ps)-1]
				row.preview = &latest
			}
			rows = append(rows, row)
		}
		return refreshedMsg{rows: rows}
	}
}

// logStream is an open websocket log subscription.
type logStream struct {
	previewID string
	lines     <-chan string
	cancel    context.CancelFunc
}

func openStreamCmd(api API, appID, previewID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		lines, err := api.StreamLogs(ctx, appID, previewID)
		if err != nil {
			cancel()
			return streamOpenedMsg{previewID: previewID, err: err}
		}
		return streamOpenedMsg{previewID: previewID, stream: &logStream{previewID: previewID, lines: lines, cancel: cancel}}
	}
}

func waitForLine(s *logStream) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-s.lines
		if !ok {
			return streamClosedMsg{previewID: s.previewID}
		}
		return logLineMsg{previewID: s.previewID, line: line}
	}
}

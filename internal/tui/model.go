package tui

import (
	"context"
	"os"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/zpdzap/codelive/internal/client"
	"github.com/zpdzap/codelive/internal/git"
	"github.com/zpdzap/codelive/internal/preview"
	"github.com/zpdzap/codelive/internal/store"
)

// maxLogLines bounds the log buffer kept per preview.
const maxLogLines = 500

// API is the part of the server the dashboard drives.
type API interface {
	ListApps(ctx context.Context) ([]store.App, error)
	ListPreviews(ctx context.Context, appID string) ([]preview.Preview, error)
	CreatePreview(ctx context.Context, appID string, req client.PreviewRequest) (preview.Preview, error)
	DeletePreview(ctx context.Context, appID, id string) error
	StreamLogs(ctx context.Context, appID, id string) (<-chan string, error)
	Deploy(ctx context.Context, appID, provider string) (store.Deployment, error)
	Changes(ctx context.Context, appID string) ([]git.Change, error)
	Diff(ctx context.Context, appID string) (string, error)
	Commit(ctx context.Context, appID, message string) (git.Commit, bool, error)
}

type appRow struct {
	app     store.App
	preview *preview.Preview
}

// live reports whether the row's preview is starting or serving.
func (r appRow) live() bool {
	return r.preview != nil && (r.preview.Status == preview.StatusCreating || r.preview.Status == preview.StatusReady)
}

// model is the Bubble Tea model for the dashboard.
type model struct {
	api        API
	input      textinput.Model
	rows       []appRow
	loaded     bool
	cursor     int
	message    string
	isError    bool
	commanding bool // true when in command mode (/ pressed)
	quitting   bool
	width      int
	height     int

	// Log pane
	logs    map[string][]string // by preview id
	stream  *logStream
	opening string // preview id whose stream is being dialed

	// pane replaces the log pane with a diff tree or patch until esc.
	pane string

	busy map[string]string // app id -> action in flight

	showHelp bool

	// Double-press stop confirmation
	confirmStop   bool
	confirmStopID string
}

func newModel(api API) model {
	ti := textinput.New()
	ti.Placeholder = "preview, stop, deploy [modal|docker], diff [full], commit [message] | quit"
	ti.CharLimit = 256
	ti.Width = 80
	ti.Blur()

	w, h, _ := term.GetSize(int(os.Stdout.Fd()))
	if w == 0 {
		w = 80
	}
	if h == 0 {
		h = 24
	}

	return model{
		api:    api,
		input:  ti,
		width:  w,
		height: h,
		logs:   make(map[string][]string),
		busy:   make(map[string]string),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(refreshCmd(m.api), tickCmd())
}

func (m model) selected() (appRow, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return appRow{}, false
	}
	return m.rows[m.cursor], true
}

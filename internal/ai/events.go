package ai

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/zpdzap/codelive/internal/workspace"
)

// Event types written to a plan stream.
const (
	EventDescription = "description"
	EventFile        = "file"
	EventCommand     = "command"
	EventDone        = "done"
	EventError       = "error"
)

// Event is one NDJSON line of a plan stream.
type Event struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Path        string   `json:"path,omitempty"`
	Content     string   `json:"content,omitempty"`
	Packages    []string `json:"packages,omitempty"`
	Commit      string   `json:"commit,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// EventWriter writes newline-delimited JSON events, flushing after each
// line when the writer supports it.
type EventWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	w   io.Writer
}

func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{enc: json.NewEncoder(w), w: w}
}

func (e *EventWriter) Write(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(ev); err != nil {
		return err
	}
	if f, ok := e.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (e *EventWriter) Description(text string) error {
	return e.Write(Event{Type: EventDescription, Description: text})
}

// Action writes the event for one applied plan action.
func (e *EventWriter) Action(a workspace.Action) error {
	if a.Type == workspace.ActionCommand {
		return e.Write(Event{Type: EventCommand, Description: a.Description, Packages: a.Packages})
	}
	return e.Write(Event{Type: EventFile, Description: a.Description, Path: a.Path, Content: a.Content})
}

func (e *EventWriter) Done(commit string) error {
	return e.Write(Event{Type: EventDone, Commit: commit})
}

func (e *EventWriter) Fail(err error) error {
	return e.Write(Event{Type: EventError, Error: err.Error()})
}

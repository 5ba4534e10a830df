package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// State holds the persistent sandbox state, keyed by sandbox id.
type State struct {
	Sandboxes map[string]*Sandbox `json:"sandboxes"`
}

func newState() *State {
	return &State{Sandboxes: make(map[string]*Sandbox)}
}

func loadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if s.Sandboxes == nil {
		s.Sandboxes = make(map[string]*Sandbox)
	}
	return &s, nil
}

// saveState writes via a temp file so a crash never leaves half a file.
func saveState(path string, s *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return os.Rename(tmp, path)
}

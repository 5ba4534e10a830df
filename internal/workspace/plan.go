package workspace

import (
	"context"
	"fmt"

	"github.com/zpdzap/codelive/internal/git"
)

const (
	ActionFile    = "file"
	ActionCommand = "command"
)

// Plan is a set of edits proposed by the model for one prompt.
type Plan struct {
	Description string   `json:"description"`
	Actions     []Action `json:"actions"`
}

// Action is a single step of a plan. File actions carry Path and Content;
// command actions carry the npm packages to install.
type Action struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Path        string   `json:"path,omitempty"`
	Content     string   `json:"content,omitempty"`
	Packages    []string `json:"packages,omitempty"`
}

// ApplyPlan writes every file action, installs requested packages, and
// commits the result. applied is called after each action succeeds.
func (w *Workspace) ApplyPlan(ctx context.Context, appID string, plan Plan, applied func(Action)) (git.Commit, error) {
	var packages []string
	for _, a := range plan.Actions {
		switch a.Type {
		case ActionFile:
			if _, err := w.WriteFile(appID, a.Path, a.Content); err != nil {
				return git.Commit{}, fmt.Errorf("applying %s: %w", a.Path, err)
			}
		case ActionCommand:
			packages = append(packages, a.Packages...)
			continue
		default:
			return git.Commit{}, fmt.Errorf("unknown action type %q", a.Type)
		}
		if applied != nil {
			applied(a)
		}
	}

	if len(packages) > 0 {
		if _, err := w.InstallDependencies(ctx, appID, packages); err != nil {
			return git.Commit{}, err
		}
		if applied != nil {
			for _, a := range plan.Actions {
				if a.Type == ActionCommand {
					applied(a)
				}
			}
		}
	}

	message := plan.Description
	if message == "" {
		message = "Apply generated changes"
	}
	c, _, err := w.Commit(ctx, appID, message)
	return c, err
}

package workspace

import (
	"context"
	"errors"

	"github.com/zpdzap/codelive/internal/git"
)

// Commit records the app's current state. A clean tree is not an error:
// ok reports whether a commit was made.
func (w *Workspace) Commit(ctx context.Context, appID, message string) (c git.Commit, ok bool, err error) {
	repo, err := w.Repo(appID)
	if err != nil {
		return git.Commit{}, false, err
	}
	if message == "" {
		message = "Update app"
	}
	c, err = repo.CommitAll(ctx, message)
	if errors.Is(err, git.ErrNothingToCommit) {
		return git.Commit{}, false, nil
	}
	if err != nil {
		return git.Commit{}, false, err
	}
	return c, true, nil
}

// History lists commits, newest first.
func (w *Workspace) History(ctx context.Context, appID string, limit int) ([]git.Commit, error) {
	repo, err := w.Repo(appID)
	if err != nil {
		return nil, err
	}
	return repo.Log(ctx, limit)
}

// Checkout restores the files of a previous commit.
func (w *Workspace) Checkout(ctx context.Context, appID, sha string) error {
	repo, err := w.Repo(appID)
	if err != nil {
		return err
	}
	return repo.Checkout(ctx, sha)
}

// Changes lists files changed since base, or uncommitted changes when base
// is empty.
func (w *Workspace) Changes(ctx context.Context, appID, base string) ([]git.Change, error) {
	repo, err := w.Repo(appID)
	if err != nil {
		return nil, err
	}
	return repo.Changes(ctx, base)
}

// Diff returns the patch of uncommitted changes, or of everything since base.
func (w *Workspace) Diff(ctx context.Context, appID, base string) (string, error) {
	repo, err := w.Repo(appID)
	if err != nil {
		return "", err
	}
	return repo.Diff(ctx, base)
}

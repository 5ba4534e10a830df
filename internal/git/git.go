// Package git wraps the git CLI for per-app revision history.
package git

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zpdzap/codelive/internal/shell"
)

// ErrNothingToCommit is returned by CommitAll when the tree is clean.
var ErrNothingToCommit = errors.New("nothing to commit")

const (
	authorName  = "Codelive"
	authorEmail = "codelive@localhost"
)

// Repo is a git working tree on disk.
type Repo struct {
	Dir    string
	runner shell.Runner
}

// Open returns a Repo for dir. A nil runner uses the host shell.
func Open(dir string, runner shell.Runner) *Repo {
	if runner == nil {
		runner = shell.Exec{}
	}
	return &Repo{Dir: dir, runner: runner}
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	out, err := r.runner.Run(ctx, shell.New("git", args...).In(r.Dir).With(
		"GIT_AUTHOR_NAME="+authorName,
		"GIT_AUTHOR_EMAIL="+authorEmail,
		"GIT_COMMITTER_NAME="+authorName,
		"GIT_COMMITTER_EMAIL="+authorEmail,
	))
	if err != nil {
		return out, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

// Init creates the repository and records an initial commit of whatever is
// already in the directory.
func (r *Repo) Init(ctx context.Context) (Commit, error) {
	if _, err := r.git(ctx, "init", "-q", "-b", "main"); err != nil {
		return Commit{}, err
	}
	return r.CommitAll(ctx, "Initial commit")
}

// Commit is one entry of the history.
type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// CommitAll stages everything and commits it.
func (r *Repo) CommitAll(ctx context.Context, message string) (Commit, error) {
	status, err := r.git(ctx, "status", "--porcelain")
	if err != nil {
		return Commit{}, err
	}
	if strings.TrimSpace(status) == "" {
		return Commit{}, ErrNothingToCommit
	}
	if _, err := r.git(ctx, "add", "-A"); err != nil {
		return Commit{}, err
	}
	if _, err := r.git(ctx, "commit", "-q", "-m", message); err != nil {
		return Commit{}, err
	}
	log, err := r.Log(ctx, 1)
	if err != nil {
		return Commit{}, err
	}
	if len(log) == 0 {
		return Commit{}, fmt.Errorf("commit created but HEAD is empty")
	}
	return log[0], nil
}

const logFormat = "%H%x1f%s%x1f%an%x1f%at"

// Log returns up to limit commits from HEAD, newest first. limit <= 0 means all.
func (r *Repo) Log(ctx context.Context, limit int) ([]Commit, error) {
	args := []string{"log", "--format=" + logFormat}
	if limit > 0 {
		args = append(args, "-n", strconv.Itoa(limit))
	}
	out, err := r.git(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

func parseLog(out string) []Commit {
	commits := []Commit{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, "\x1f")
		if len(fields) != 4 {
			continue
		}
		secs, _ := strconv.ParseInt(fields[3], 10, 64)
		commits = append(commits, Commit{
			SHA:     fields[0],
			Message: fields[1],
			Author:  fields[2],
			Date:    time.Unix(secs, 0).UTC(),
		})
	}
	return commits
}

// Checkout makes the working tree match sha without moving HEAD, so the
// restored state can be committed on top of the current history.
func (r *Repo) Checkout(ctx context.Context, sha string) error {
	if sha == "" || strings.HasPrefix(sha, "-") {
		return fmt.Errorf("invalid revision %q", sha)
	}
	if _, err := r.git(ctx, "rev-parse", "--verify", "--quiet", sha+"^{commit}"); err != nil {
		return fmt.Errorf("unknown revision %s: %w", sha, err)
	}
	_, err := r.git(ctx, "restore", "--source", sha, "--staged", "--worktree", "--", ".")
	return err
}

// Diff returns the patch of the working tree against HEAD, or against base
// when it is set.
func (r *Repo) Diff(ctx context.Context, base string) (string, error) {
	if _, err := r.git(ctx, "add", "-N", "."); err != nil {
		return "", err
	}
	args := []string{"diff"}
	if base != "" {
		args = append(args, base)
	} else {
		args = append(args, "HEAD")
	}
	return r.git(ctx, args...)
}

// Package workspace manages app project directories on disk: the files
// themselves, their git history, and the npm tooling run inside them.
package workspace

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"

	"github.com/zpdzap/codelive/internal/git"
	"github.com/zpdzap/codelive/internal/shell"
)

var (
	// ErrInvalidPath is returned for paths that are empty or leave the app dir.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound is returned when an app, file or directory does not exist.
	ErrNotFound = errors.New("not found")
)

//go:embed all:template
var templateFS embed.FS

// Workspace roots every app at <root>/<externalId>.
type Workspace struct {
	root   string
	runner shell.Runner
	log    logrus.FieldLogger
}

// New returns a Workspace rooted at root. A nil runner uses the host shell.
func New(root string, runner shell.Runner, log logrus.FieldLogger) *Workspace {
	if runner == nil {
		runner = shell.Exec{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Workspace{root: root, runner: runner, log: log}
}

// Root returns the directory holding all apps.
func (w *Workspace) Root() string { return w.root }

var appIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Dir returns the directory of an app.
func (w *Workspace) Dir(appID string) (string, error) {
	if !appIDPattern.MatchString(appID) {
		return "", fmt.Errorf("app id %q: %w", appID, ErrInvalidPath)
	}
	return filepath.Join(w.root, appID), nil
}

func (w *Workspace) existingDir(appID string) (string, error) {
	dir, err := w.Dir(appID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("app %s: %w", appID, ErrNotFound)
		}
		return "", err
	}
	return dir, nil
}

// resolve maps an app-relative path to an absolute one inside the app dir.
// The app root itself is returned for "", "." and "/".
func (w *Workspace) resolve(appID, rel string) (string, string, error) {
	dir, err := w.existingDir(appID)
	if err != nil {
		return "", "", err
	}
	clean := path.Clean("/" + filepath.ToSlash(rel))
	if strings.Contains(rel, "\x00") {
		return "", "", fmt.Errorf("%q: %w", rel, ErrInvalidPath)
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", "", fmt.Errorf("%q escapes the app directory: %w", rel, ErrInvalidPath)
		}
	}
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" {
		return dir, "", nil
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), clean, nil
}

// Repo returns the git repository of an app.
func (w *Workspace) Repo(appID string) (*git.Repo, error) {
	dir, err := w.existingDir(appID)
	if err != nil {
		return nil, err
	}
	return git.Open(dir, w.runner), nil
}

type templateData struct {
	Name string
	Slug string
}

// Create writes the starter project for a new app and records the first
// commit. The app directory must not exist yet.
func (w *Workspace) Create(ctx context.Context, appID, name string) error {
	dir, err := w.Dir(appID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("app directory %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating app directory: %w", err)
	}

	if err := renderTemplate(dir, templateData{Name: name, Slug: slugify(name)}); err != nil {
		os.RemoveAll(dir)
		return err
	}

	if _, err := git.Open(dir, w.runner).Init(ctx); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("initializing history: %w", err)
	}
	w.log.WithField("app_id", appID).Info("created app")
	return nil
}

func renderTemplate(dir string, data templateData) error {
	return fs.WalkDir(templateFS, "template", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, "template"), "/")
		if rel == "" {
			return nil
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		raw, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		switch {
		case rel == "gitignore":
			target = filepath.Join(dir, ".gitignore")
		case strings.HasSuffix(rel, ".tmpl"):
			target = strings.TrimSuffix(target, ".tmpl")
			tmpl, err := template.New(rel).Parse(string(raw))
			if err != nil {
				return fmt.Errorf("parsing %s: %w", rel, err)
			}
			var b strings.Builder
			if err := tmpl.Execute(&b, data); err != nil {
				return fmt.Errorf("rendering %s: %w", rel, err)
			}
			raw = []byte(b.String())
		}
		if err := os.WriteFile(target, raw, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", rel, err)
		}
		return nil
	})
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if s == "" {
		return "app"
	}
	return s
}

// Delete removes an app directory. Missing apps are not an error.
func (w *Workspace) Delete(appID string) error {
	dir, err := w.Dir(appID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing app directory: %w", err)
	}
	return nil
}

// Exists reports whether the app directory is present.
func (w *Workspace) Exists(appID string) bool {
	_, err := w.existingDir(appID)
	return err == nil
}

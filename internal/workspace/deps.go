package workspace

import (
	"context"
	"fmt"
	"regexp"

	"github.com/zpdzap/codelive/internal/shell"
)

// npm package specs: optional scope, name, optional version or tag.
var packageSpec = regexp.MustCompile(`^(@[a-z0-9][\w.-]*/)?[a-z0-9][\w.-]*(@[\w.^~<>=*|-]+)?$`)

// InstallDependencies runs npm install in the app directory. With no
// packages it installs what package.json already lists.
func (w *Workspace) InstallDependencies(ctx context.Context, appID string, packages []string) (string, error) {
	dir, err := w.existingDir(appID)
	if err != nil {
		return "", err
	}
	for _, p := range packages {
		if !packageSpec.MatchString(p) {
			return "", fmt.Errorf("package %q: %w", p, ErrInvalidPath)
		}
	}
	args := append([]string{"install", "--no-audit", "--no-fund"}, packages...)
	out, err := w.runner.Run(ctx, shell.New("npm", args...).In(dir))
	if err != nil {
		return out, fmt.Errorf("npm install: %w", err)
	}
	w.log.WithField("app_id", appID).WithField("packages", packages).Info("installed dependencies")
	return out, nil
}

package deploy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/zpdzap/codelive/internal/shell"
)

//go:embed modal_app.py.tmpl
var modalTemplate string

var modalScript = template.Must(template.New("modal").Parse(modalTemplate))

// ErrMissingToken is returned when no Modal credentials are configured.
var ErrMissingToken = errors.New("MODAL_TOKEN is not set")

var modalURL = regexp.MustCompile(`https://[A-Za-z0-9.-]+\.modal\.run[^\s"']*`)

// Modal deploys the built app as a static site served from a Modal web
// endpoint. The Modal CLI is installed into a throwaway virtualenv.
type Modal struct {
	Runner    shell.Runner
	Source    Source
	WorkDir   string
	Python    string
	AppPrefix string
	Token     string // "<token id>:<token secret>"
}

func (m *Modal) Name() string { return "modal" }

// ScriptData feeds the generated deploy script.
type ScriptData struct {
	AppName string
	DistDir string
}

// RenderScript returns the Python program handed to `modal deploy`.
func RenderScript(data ScriptData) (string, error) {
	var b strings.Builder
	if err := modalScript.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering modal script: %w", err)
	}
	return b.String(), nil
}

// ParseToken splits MODAL_TOKEN into its id and secret.
func ParseToken(token string) (id, secret string, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrMissingToken
	}
	id, secret, ok := strings.Cut(token, ":")
	if !ok || id == "" || secret == "" {
		return "", "", fmt.Errorf("MODAL_TOKEN must look like <id>:<secret>")
	}
	return id, secret, nil
}

// ParseURL returns the first modal.run URL in the deploy output.
func ParseURL(output string) (string, bool) {
	u := modalURL.FindString(output)
	return u, u != ""
}

// Deploy builds the app, installs the Modal client and runs modal deploy.
func (m *Modal) Deploy(ctx context.Context, appID string) (Result, error) {
	tokenID, tokenSecret, err := ParseToken(m.Token)
	if err != nil {
		return Result{}, err
	}
	runner := m.Runner
	if runner == nil {
		runner = shell.Exec{}
	}
	python := m.Python
	if python == "" {
		python = "python3"
	}

	if err := os.MkdirAll(m.WorkDir, 0o755); err != nil {
		return Result{}, err
	}
	dir, err := os.MkdirTemp(m.WorkDir, "modal-")
	if err != nil {
		return Result{}, fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	appDir := filepath.Join(dir, "app")
	if err := m.Source.CopyTo(appID, appDir); err != nil {
		return Result{}, fmt.Errorf("copying app: %w", err)
	}

	var output strings.Builder
	run := func(c shell.Command) error {
		fmt.Fprintf(&output, "$ %s\n", c.String())
		out, err := runner.Run(ctx, c)
		if out != "" {
			output.WriteString(out + "\n")
		}
		return err
	}

	venv := filepath.Join(dir, ".venv")
	steps := []shell.Command{
		shell.New("npm", "install", "--no-audit", "--no-fund").In(appDir),
		shell.New("npm", "run", "build").In(appDir),
		shell.New(python, "-m", "venv", venv),
		shell.New(filepath.Join(venv, "bin", "pip"), "install", "--quiet", "modal"),
	}
	for _, step := range steps {
		if err := run(step); err != nil {
			return Result{Output: output.String()}, err
		}
	}

	script, err := RenderScript(ScriptData{
		AppName: modalAppName(m.AppPrefix, appID),
		DistDir: filepath.Join(appDir, "dist"),
	})
	if err != nil {
		return Result{}, err
	}
	scriptPath := filepath.Join(dir, "deploy_app.py")
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return Result{}, fmt.Errorf("writing modal script: %w", err)
	}

	deploy := shell.New(filepath.Join(venv, "bin", "modal"), "deploy", scriptPath).In(dir).
		With("MODAL_TOKEN_ID="+tokenID, "MODAL_TOKEN_SECRET="+tokenSecret)
	if err := run(deploy); err != nil {
		return Result{Output: output.String()}, err
	}

	url, ok := ParseURL(output.String())
	if !ok {
		return Result{Output: output.String()}, fmt.Errorf("modal deploy succeeded but printed no URL")
	}
	return Result{URL: url, Output: output.String()}, nil
}

var nonName = regexp.MustCompile(`[^a-z0-9-]+`)

func modalAppName(prefix, appID string) string {
	if prefix == "" {
		prefix = "codelive"
	}
	id := appID
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.Trim(nonName.ReplaceAllString(strings.ToLower(prefix+"-"+id), "-"), "-")
}

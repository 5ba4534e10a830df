package workspace

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/zpdzap/codelive/internal/logging"
	"github.com/zpdzap/codelive/internal/shell"
)

// fakeRunner records commands and answers with canned output.
type fakeRunner struct {
	calls  []shell.Command
	output string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, c shell.Command) (string, error) {
	f.calls = append(f.calls, c)
	return f.output, f.err
}

// newApp creates an app directory by hand so tests that don't need git
// can run without it.
func newApp(t *testing.T, runner shell.Runner) (*Workspace, string) {
	t.Helper()
	w := New(t.TempDir(), runner, logging.Discard())
	id := "app-1"
	dir, _ := w.Dir(id)
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "src", "App.tsx"), []byte("export default function App() {\n  return <h1>Hello World</h1>\n}\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"x"}`), 0o644)
	return w, id
}

func TestCreateFromTemplate(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	w := New(t.TempDir(), nil, logging.Discard())
	ctx := context.Background()

	if err := w.Create(ctx, "abc", "My Todo App"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pkg, err := w.ReadFile("abc", "package.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(pkg, `"name": "my-todo-app"`) {
		t.Errorf("package.json not rendered:\n%s", pkg)
	}
	if _, err := w.ReadFile("abc", ".gitignore"); err != nil {
		t.Errorf(".gitignore missing: %v", err)
	}

	history, err := w.History(ctx, "abc", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("len(history) = %d, want 1", len(history))
	}

	if err := w.Create(ctx, "abc", "again"); err == nil {
		t.Error("expected error creating an existing app")
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	w, id := newApp(t, &fakeRunner{})

	bad := []string{"../outside.txt", "src/../../x", "a/../../../etc/passwd"}
	for _, p := range bad {
		if _, err := w.ReadFile(id, p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ReadFile(%q) err = %v, want ErrInvalidPath", p, err)
		}
		if _, err := w.WriteFile(id, p, "x"); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("WriteFile(%q) err = %v, want ErrInvalidPath", p, err)
		}
	}

	if _, err := w.ReadFile("../etc", "passwd"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("bad app id err = %v, want ErrInvalidPath", err)
	}
	if _, err := w.ReadFile("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing app err = %v, want ErrNotFound", err)
	}
}

func TestFileAndDirectoryOperations(t *testing.T) {
	w, id := newApp(t, &fakeRunner{})

	if _, err := w.WriteFile(id, "src/components/Button.tsx", "export const Button = 1\n"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := w.ReadFile(id, "/src/components/Button.tsx")
	if err != nil || got != "export const Button = 1\n" {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}

	os.MkdirAll(filepath.Join(w.Root(), id, "node_modules", "react"), 0o755)

	entries, err := w.ListDirectory(id, "")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name+":"+e.Type)
	}
	want := "src:directory,package.json:file"
	if strings.Join(names, ",") != want {
		t.Errorf("entries = %v, want %s", names, want)
	}

	moved, err := w.Rename(id, "src/components", "src/ui")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if moved.Path != "src/ui" || moved.Type != "directory" {
		t.Errorf("Rename entry = %+v", moved)
	}
	if _, err := w.ReadFile(id, "src/ui/Button.tsx"); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
	if _, err := w.Rename(id, "src/App.tsx", "package.json"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("rename onto existing file err = %v", err)
	}

	if err := w.DeleteFile(id, "src/ui/Button.tsx"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := w.ReadFile(id, "src/ui/Button.tsx"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile after delete err = %v", err)
	}

	if _, err := w.CreateDirectory(id, "public/img"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if err := w.DeleteDirectory(id, "public"); err != nil {
		t.Fatalf("DeleteDirectory: %v", err)
	}
	if err := w.DeleteDirectory(id, ""); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("deleting root err = %v", err)
	}
	if err := w.DeleteDirectory(id, "package.json"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("deleting file as directory err = %v", err)
	}
}

func TestSearch(t *testing.T) {
	w, id := newApp(t, &fakeRunner{})
	os.MkdirAll(filepath.Join(w.Root(), id, "node_modules"), 0o755)
	os.WriteFile(filepath.Join(w.Root(), id, "node_modules", "x.js"), []byte("hello world"), 0o644)
	os.WriteFile(filepath.Join(w.Root(), id, "logo.png"), []byte{0x89, 'P', 'N', 'G', 0, 0, 'h', 'e', 'l', 'l', 'o'}, 0o644)

	matches, err := w.Search(id, "HELLO", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %+v, want 1", matches)
	}
	m := matches[0]
	if m.Path != "src/App.tsx" || m.Line != 2 || m.Text != "return <h1>Hello World</h1>" {
		t.Errorf("match = %+v", m)
	}

	empty, err := w.Search(id, "  ", 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("blank query = %v, %v", empty, err)
	}
}

func TestSearchLimit(t *testing.T) {
	w, id := newApp(t, &fakeRunner{})
	os.WriteFile(filepath.Join(w.Root(), id, "notes.md"), []byte(strings.Repeat("todo\n", 10)), 0o644)

	matches, err := w.Search(id, "todo", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("len(matches) = %d, want 3", len(matches))
	}
}

func TestParseTSC(t *testing.T) {
	out := `src/App.tsx(3,10): error TS2322: Type 'number' is not assignable to type 'string'.
src/main.tsx(1,1): error TS6133: 'React' is declared but its value is never read.
  Additional context line.
Found 2 errors.`

	diags := ParseTSC(out)
	if len(diags) != 2 {
		t.Fatalf("len(diags) = %d, want 2", len(diags))
	}
	d := diags[0]
	if d.File != "src/App.tsx" || d.Line != 3 || d.Column != 10 || d.Code != "TS2322" || d.Severity != "error" {
		t.Errorf("diags[0] = %+v", d)
	}
	if !strings.HasSuffix(diags[1].Message, "Additional context line.") {
		t.Errorf("continuation not appended: %q", diags[1].Message)
	}
}

func TestLintUsesTSC(t *testing.T) {
	runner := &fakeRunner{
		output: "src/App.tsx(2,3): error TS2304: Cannot find name 'foo'.",
		err:    &shell.Error{Command: "npx tsc", Err: errors.New("exit status 2")},
	}
	w, id := newApp(t, runner)

	diags, err := w.Lint(context.Background(), id)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	if len(diags) != 1 || diags[0].Code != "TS2304" {
		t.Errorf("diags = %+v", diags)
	}
	c := runner.calls[0]
	if c.Name != "npx" || !strings.Contains(c.String(), "tsc --noEmit") || c.Dir != filepath.Join(w.Root(), id) {
		t.Errorf("command = %q in %q", c.String(), c.Dir)
	}
}

func TestInstallDependenciesValidatesNames(t *testing.T) {
	runner := &fakeRunner{}
	w, id := newApp(t, runner)

	if _, err := w.InstallDependencies(context.Background(), id, []string{"react-router-dom", "@tanstack/react-query@^5"}); err != nil {
		t.Fatalf("InstallDependencies: %v", err)
	}
	if got := runner.calls[0].String(); got != "npm install --no-audit --no-fund react-router-dom @tanstack/react-query@^5" {
		t.Errorf("command = %q", got)
	}

	if _, err := w.InstallDependencies(context.Background(), id, []string{"left-pad; rm -rf /"}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("bad package err = %v", err)
	}
}

func TestExportSkipsHidden(t *testing.T) {
	w, id := newApp(t, &fakeRunner{})
	os.MkdirAll(filepath.Join(w.Root(), id, ".git"), 0o755)
	os.WriteFile(filepath.Join(w.Root(), id, ".git", "HEAD"), []byte("ref"), 0o644)

	var buf bytes.Buffer
	if err := w.Export(id, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "package.json,src/App.tsx" {
		t.Errorf("zip entries = %v", names)
	}
}

func TestFilesForContext(t *testing.T) {
	w, id := newApp(t, &fakeRunner{})
	os.WriteFile(filepath.Join(w.Root(), id, "package-lock.json"), []byte("{}"), 0o644)

	files, err := w.Files(id)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 || files[0].Path != "package.json" || files[1].Path != "src/App.tsx" {
		t.Errorf("files = %+v", files)
	}
}

func TestApplyPlanWritesAndInstalls(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	w := New(t.TempDir(), nil, logging.Discard())
	ctx := context.Background()
	if err := w.Create(ctx, "plan", "Plan"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	npm := &fakeRunner{}
	w.runner = routeRunner{npm: npm}

	var applied []string
	plan := Plan{
		Description: "Add a counter",
		Actions: []Action{
			{Type: ActionFile, Path: "src/Counter.tsx", Content: "export const Counter = () => null\n"},
			{Type: ActionCommand, Packages: []string{"zustand"}},
		},
	}
	c, err := w.ApplyPlan(ctx, "plan", plan, func(a Action) { applied = append(applied, a.Type) })
	if err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	if c.Message != "Add a counter" {
		t.Errorf("commit message = %q", c.Message)
	}
	if strings.Join(applied, ",") != "file,command" {
		t.Errorf("applied = %v", applied)
	}
	if len(npm.calls) != 1 || !strings.HasSuffix(npm.calls[0].String(), "zustand") {
		t.Errorf("npm calls = %v", npm.calls)
	}
}

// routeRunner sends npm to a fake and everything else to the host.
type routeRunner struct{ npm *fakeRunner }

func (r routeRunner) Run(ctx context.Context, c shell.Command) (string, error) {
	if c.Name == "npm" {
		return r.npm.Run(ctx, c)
	}
	return shell.Exec{}.Run(ctx, c)
}

func TestCopyToSkipsHidden(t *testing.T) {
	w, id := newApp(t, &fakeRunner{})
	os.MkdirAll(filepath.Join(w.Root(), id, "node_modules", "react"), 0o755)
	os.WriteFile(filepath.Join(w.Root(), id, "node_modules", "react", "index.js"), []byte("x"), 0o644)

	dst := filepath.Join(t.TempDir(), "copy")
	if err := w.CopyTo(id, dst); err != nil {
		t.Fatalf("CopyTo: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "src", "App.tsx")); err != nil {
		t.Errorf("src/App.tsx not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "node_modules")); !os.IsNotExist(err) {
		t.Errorf("node_modules should be skipped, stat err = %v", err)
	}
}

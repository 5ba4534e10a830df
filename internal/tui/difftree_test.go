package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/zpdzap/codelive/internal/git"
)

func TestRenderDiffTreeEmpty(t *testing.T) {
	got := renderDiffTree("todo", nil)
	if got != "[todo] No changes yet" {
		t.Errorf("got %q", got)
	}
}

func TestRenderDiffTree(t *testing.T) {
	changes := []git.Change{
		{Path: "src/components/Header.tsx", Status: "A", Added: 12, Uncommitted: "untracked"},
		{Path: "src/App.tsx", Status: "M", Added: 4, Deleted: 2},
		{Path: "README.md", Status: "D", Deleted: 7},
	}
	out := ansi.Strip(renderDiffTree("todo", changes))

	wants := []string{
		"todo",
		"src/",
		"components/",
		"Header.tsx new ⚠ untracked  +12",
		"App.tsx  +4 -2",
		"README.md deleted  -7",
		"3 files changed, +16, -9",
		"⚠ 1 file not committed yet",
	}
	for _, w := range wants {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}

	// Directories come before files at the same level.
	if strings.Index(out, "src/") > strings.Index(out, "README.md") {
		t.Errorf("expected src/ before README.md:\n%s", out)
	}
	if !strings.Contains(out, "└── README.md") {
		t.Errorf("expected README.md to be the last root entry:\n%s", out)
	}
}

func TestPlural(t *testing.T) {
	if plural(1) != "" || plural(0) != "s" || plural(2) != "s" {
		t.Error("plural mismatch")
	}
}

package tui

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zpdzap/codelive/internal/git"
)

var (
	diffAddStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00CC00"))
	diffDelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444"))
	diffFileStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	diffDirStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5599FF")).Bold(true)
	diffNewStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00CC00")).Bold(true)
	diffDelFileStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444")).Bold(true)
	diffTreeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	diffWarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00")).Bold(true)
	diffHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7DD3FC"))
)

type dirNode struct {
	children map[string]*dirNode
	files    []git.Change
}

func newDirNode() *dirNode {
	return &dirNode{children: make(map[string]*dirNode)}
}

// renderDiffTree draws changed files as a directory tree with line counts
// and a summary.
func renderDiffTree(name string, changes []git.Change) string {
	if len(changes) == 0 {
		return fmt.Sprintf("[%s] No changes yet", name)
	}

	sorted := append([]git.Change(nil), changes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	root := newDirNode()
	for _, c := range sorted {
		node := root
		dir := path.Dir(c.Path)
		if dir != "." {
			for _, part := range strings.Split(dir, "/") {
				child, ok := node.children[part]
				if !ok {
					child = newDirNode()
					node.children[part] = child
				}
				node = child
			}
		}
		node.files = append(node.files, c)
	}

	var b strings.Builder
	b.WriteString(diffHeaderStyle.Render(name))
	b.WriteString("\n")
	renderTree(&b, root, "")

	totalAdd, totalDel, uncommitted := 0, 0, 0
	for _, c := range sorted {
		totalAdd += c.Added
		totalDel += c.Deleted
		if c.Uncommitted != "" {
			uncommitted++
		}
	}
	b.WriteString("\n")
	summary := fmt.Sprintf("%d file%s changed", len(sorted), plural(len(sorted)))
	if totalAdd > 0 {
		summary += ", " + diffAddStyle.Render(fmt.Sprintf("+%d", totalAdd))
	}
	if totalDel > 0 {
		summary += ", " + diffDelStyle.Render(fmt.Sprintf("-%d", totalDel))
	}
	b.WriteString(summary)

	if uncommitted > 0 {
		b.WriteString("\n")
		b.WriteString(diffWarnStyle.Render(fmt.Sprintf(
			"⚠ %d file%s not committed yet", uncommitted, plural(uncommitted))))
	}
	return b.String()
}

func renderTree(b *strings.Builder, node *dirNode, prefix string) {
	dirs := make([]string, 0, len(node.children))
	for name := range node.children {
		dirs = append(dirs, name)
	}
	sort.Strings(dirs)

	total := len(dirs) + len(node.files)
	for i, d := range dirs {
		connector, childPrefix := branch(i == total-1)
		b.WriteString(diffTreeStyle.Render(prefix+connector) + diffDirStyle.Render(d+"/") + "\n")
		renderTree(b, node.children[d], prefix+childPrefix)
	}
	for i, f := range node.files {
		connector, _ := branch(len(dirs)+i == total-1)
		renderFileEntry(b, prefix+connector, f)
	}
}

func branch(last bool) (connector, childPrefix string) {
	if last {
		return "└── ", "    "
	}
	return "├── ", "│   "
}

func renderFileEntry(b *strings.Builder, prefix string, c git.Change) {
	style := diffFileStyle
	var badges []string

	switch c.Status {
	case "A":
		style = diffNewStyle
		badges = append(badges, diffNewStyle.Render("new"))
	case "D":
		style = diffDelFileStyle
		badges = append(badges, diffDelFileStyle.Render("deleted"))
	}

	switch c.Uncommitted {
	case "untracked":
		badges = append(badges, diffWarnStyle.Render("⚠ untracked"))
	case "deleted":
		badges = append(badges, diffWarnStyle.Render("⚠ deleted, not committed"))
	case "modified":
		badges = append(badges, diffWarnStyle.Render("⚠ uncommitted"))
	}

	var counts []string
	if c.Added > 0 {
		counts = append(counts, diffAddStyle.Render(fmt.Sprintf("+%d", c.Added)))
	}
	if c.Deleted > 0 {
		counts = append(counts, diffDelStyle.Render(fmt.Sprintf("-%d", c.Deleted)))
	}

	line := diffTreeStyle.Render(prefix) + style.Render(path.Base(c.Path))
	if len(badges) > 0 {
		line += " " + strings.Join(badges, " ")
	}
	if len(counts) > 0 {
		line += "  " + strings.Join(counts, " ")
	}
	b.WriteString(line + "\n")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

package workspace

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/zpdzap/codelive/internal/shell"
)

// Diagnostic is one compiler message.
type Diagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

var tscLine = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): (error|warning) (TS\d+): (.*)$`)

// Lint type-checks the app with tsc and returns its diagnostics. A clean
// project yields an empty slice.
func (w *Workspace) Lint(ctx context.Context, appID string) ([]Diagnostic, error) {
	dir, err := w.existingDir(appID)
	if err != nil {
		return nil, err
	}
	out, err := w.runner.Run(ctx, shell.New("npx", "--no-install", "tsc", "--noEmit", "-p", ".").In(dir))
	diags := ParseTSC(out)
	if err != nil && len(diags) == 0 {
		var shErr *shell.Error
		if errors.As(err, &shErr) && ctx.Err() == nil && strings.Contains(shErr.Output, "error TS") {
			// global errors such as a broken tsconfig have no location
			return []Diagnostic{{Severity: "error", Message: shErr.Output}}, nil
		}
		return nil, err
	}
	return diags, nil
}

// ParseTSC parses `tsc --pretty false` style output. Continuation lines are
// appended to the preceding diagnostic's message.
func ParseTSC(out string) []Diagnostic {
	diags := []Diagnostic{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := tscLine.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			diags = append(diags, Diagnostic{
				File:     m[1],
				Line:     ln,
				Column:   col,
				Severity: m[4],
				Code:     m[5],
				Message:  m[6],
			})
			continue
		}
		if len(diags) > 0 && strings.HasPrefix(line, "  ") {
			last := &diags[len(diags)-1]
			last.Message += "\n" + strings.TrimSpace(line)
		}
	}
	return diags
}

package git

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// Change describes one file that differs from the base revision.
type Change struct {
	Path    string `json:"path"`
	Status  string `json:"status"` // "M", "A", "D"
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
	// Uncommitted is "", "modified", "untracked" or "deleted".
	Uncommitted string `json:"uncommitted,omitempty"`
}

// Changes lists files that differ between base and the working tree.
// Committed differences come from base...HEAD; uncommitted state from
// git status. An empty base compares the working tree to HEAD only.
func (r *Repo) Changes(ctx context.Context, base string) ([]Change, error) {
	var nameStatus, numstat string
	if base != "" {
		var err error
		nameStatus, err = r.git(ctx, "diff", "--name-status", base+"...HEAD")
		if err != nil {
			return nil, err
		}
		numstat, _ = r.git(ctx, "diff", "--numstat", base+"...HEAD")
	}
	porcelain, err := r.git(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	uncommittedStat, _ := r.git(ctx, "diff", "--numstat", "HEAD")

	return ParseChanges(nameStatus, numstat, porcelain, uncommittedStat), nil
}

// ParseChanges merges name-status, numstat and porcelain output into a
// sorted change list. uncommittedStat is numstat of the working tree
// against HEAD and fills counts for files the committed diff does not cover.
func ParseChanges(nameStatus, numstat, porcelain, uncommittedStat string) []Change {
	entries := map[string]*Change{}

	for _, line := range lines(nameStatus) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		file := fields[len(fields)-1] // renames list old then new
		entries[file] = &Change{Path: file, Status: fields[0][:1]}
	}
	applyNumstat(entries, numstat, false)

	for _, line := range lines(porcelain) {
		if len(line) < 3 {
			continue
		}
		x, y := line[0], line[1]
		file := strings.TrimSpace(line[2:])
		if idx := strings.Index(file, " -> "); idx >= 0 {
			file = file[idx+4:]
		}
		if file == "" {
			continue
		}

		var status, uncommitted string
		switch {
		case x == '?' && y == '?':
			status, uncommitted = "A", "untracked"
		case y == 'D' || x == 'D':
			status, uncommitted = "D", "deleted"
		case x == 'M' || y == 'M':
			status, uncommitted = "M", "modified"
		case x == 'A':
			status, uncommitted = "A", "untracked"
		default:
			continue
		}
		if e, ok := entries[file]; ok {
			e.Uncommitted = uncommitted
		} else {
			entries[file] = &Change{Path: file, Status: status, Uncommitted: uncommitted}
		}
	}
	applyNumstat(entries, uncommittedStat, true)

	out := make([]Change, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func applyNumstat(entries map[string]*Change, out string, onlyEmpty bool) {
	for _, line := range lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		e, ok := entries[fields[len(fields)-1]]
		if !ok || (onlyEmpty && (e.Added != 0 || e.Deleted != 0)) {
			continue
		}
		// binary files report "-"
		e.Added, _ = strconv.Atoi(fields[0])
		e.Deleted, _ = strconv.Atoi(fields[1])
	}
}

func lines(s string) []string {
	s = strings.TrimRight(s, " \t\r\n")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

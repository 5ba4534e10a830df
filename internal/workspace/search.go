package workspace

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Match is one line containing the search query.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// DefaultSearchLimit caps the number of matches returned by Search.
const DefaultSearchLimit = 200

const maxMatchText = 200

// Search finds lines containing query, case-insensitively, across the
// app's text files. At most limit matches are returned.
func (w *Workspace) Search(appID, query string, limit int) ([]Match, error) {
	dir, err := w.existingDir(appID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	matches := []Match{}
	if strings.TrimSpace(query) == "" {
		return matches, nil
	}
	needle := strings.ToLower(query)

	errLimit := fs.SkipAll
	err = walkText(dir, func(rel string, data []byte) error {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for n := 1; scanner.Scan(); n++ {
			line := scanner.Text()
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			text := strings.TrimSpace(line)
			if len(text) > maxMatchText {
				text = text[:maxMatchText]
			}
			matches = append(matches, Match{Path: rel, Line: n, Text: text})
			if len(matches) >= limit {
				return errLimit
			}
		}
		return nil
	})
	if err != nil && err != errLimit {
		return nil, err
	}
	return matches, nil
}

// walkText calls fn for every regular text file under dir, skipping
// hidden directories. Paths passed to fn are slash separated and relative.
func walkText(dir string, fn func(rel string, data []byte) error) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && hidden[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !isText(data) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), data)
	})
}

func isText(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return !bytes.Contains(head, []byte{0})
}

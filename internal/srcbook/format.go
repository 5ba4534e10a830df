// Package srcbook reads and writes notebook projects stored as .src.md
// markdown files.
package srcbook

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Cell types.
const (
	CellTitle    = "title"
	CellMarkdown = "markdown"
	CellPackage  = "package.json"
	CellCode     = "code"
)

// Cell is one block of a srcbook.
type Cell struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Filename string `json:"filename,omitempty"`
	Language string `json:"language,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Srcbook is a decoded notebook.
type Srcbook struct {
	ID       string `json:"id,omitempty"`
	Language string `json:"language"`
	Cells    []Cell `json:"cells"`
}

// Title returns the text of the title cell.
func (s *Srcbook) Title() string {
	for _, c := range s.Cells {
		if c.Type == CellTitle {
			return c.Text
		}
	}
	return ""
}

var ErrInvalid = errors.New("invalid srcbook")

var (
	headerLine = regexp.MustCompile(`^<!--\s*srcbook:(\{.*\})\s*-->$`)
	fileLine   = regexp.MustCompile(`^######\s+(\S.*)$`)
)

type header struct {
	Language string `json:"language"`
}

// Decode parses .src.md text. The document must start with a title.
func Decode(text string) (*Srcbook, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	sb := &Srcbook{Language: "typescript"}

	i := skipBlank(lines, 0)
	if i < len(lines) {
		if m := headerLine.FindStringSubmatch(strings.TrimSpace(lines[i])); m != nil {
			var h header
			if err := json.Unmarshal([]byte(m[1]), &h); err != nil {
				return nil, fmt.Errorf("%w: bad metadata: %v", ErrInvalid, err)
			}
			if h.Language != "" {
				sb.Language = h.Language
			}
			i = skipBlank(lines, i+1)
		}
	}

	if i >= len(lines) || !strings.HasPrefix(lines[i], "# ") {
		return nil, fmt.Errorf("%w: missing title", ErrInvalid)
	}
	sb.Cells = append(sb.Cells, Cell{Type: CellTitle, Text: strings.TrimSpace(lines[i][2:])})
	i++

	var md []string
	flush := func() {
		text := strings.Trim(strings.Join(md, "\n"), "\n")
		if strings.TrimSpace(text) != "" {
			sb.Cells = append(sb.Cells, Cell{Type: CellMarkdown, Text: text})
		}
		md = md[:0]
	}

	inFence := false
	for i < len(lines) {
		line := lines[i]
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		m := fileLine.FindStringSubmatch(line)
		if inFence || m == nil {
			md = append(md, line)
			i++
			continue
		}
		flush()

		name := strings.TrimSpace(m[1])
		j := skipBlank(lines, i+1)
		if j >= len(lines) || !strings.HasPrefix(lines[j], "```") {
			return nil, fmt.Errorf("%w: %s has no code block", ErrInvalid, name)
		}
		lang := strings.TrimSpace(strings.TrimPrefix(lines[j], "```"))
		var body []string
		j++
		for j < len(lines) && strings.TrimSpace(lines[j]) != "```" {
			body = append(body, lines[j])
			j++
		}
		if j >= len(lines) {
			return nil, fmt.Errorf("%w: unterminated code block for %s", ErrInvalid, name)
		}

		cell := Cell{Type: CellCode, Filename: name, Language: lang, Source: strings.Join(body, "\n")}
		if name == "package.json" {
			cell.Type = CellPackage
		}
		sb.Cells = append(sb.Cells, cell)
		i = j + 1
	}
	flush()
	return sb, nil
}

// Encode renders a srcbook as .src.md text.
func Encode(sb *Srcbook) string {
	var b strings.Builder
	lang := sb.Language
	if lang == "" {
		lang = "typescript"
	}
	meta, _ := json.Marshal(header{Language: lang})
	fmt.Fprintf(&b, "<!-- srcbook:%s -->\n", meta)

	for _, c := range sb.Cells {
		b.WriteString("\n")
		switch c.Type {
		case CellTitle:
			fmt.Fprintf(&b, "# %s\n", c.Text)
		case CellMarkdown:
			b.WriteString(strings.Trim(c.Text, "\n") + "\n")
		case CellPackage, CellCode:
			name := c.Filename
			if c.Type == CellPackage {
				name = "package.json"
			}
			fence := c.Language
			if fence == "" {
				fence = fenceLanguage(name)
			}
			fmt.Fprintf(&b, "###### %s\n\n```%s\n%s\n```\n", name, fence, strings.TrimRight(c.Source, "\n"))
		}
	}
	return b.String()
}

func fenceLanguage(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "json"
	case strings.HasSuffix(name, ".ts"), strings.HasSuffix(name, ".tsx"):
		return "typescript"
	default:
		return "javascript"
	}
}

func skipBlank(lines []string, i int) int {
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return i
}

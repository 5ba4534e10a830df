package srcbook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown srcbook ids.
var ErrNotFound = errors.New("srcbook not found")

const readme = "README.md"

// Summary is what List returns for each srcbook.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store keeps srcbooks as directories: README.md holds the .src.md text,
// package.json and src/ hold the runnable files.
type Store struct {
	root string
}

func NewStore(root string) *Store { return &Store{root: root} }

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func (s *Store) dir(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("srcbook %q: %w", id, ErrNotFound)
	}
	return filepath.Join(s.root, id), nil
}

// Create starts a srcbook with a title and an empty package.json.
func (s *Store) Create(title, language string) (*Srcbook, error) {
	if language == "" {
		language = "typescript"
	}
	if language != "typescript" && language != "javascript" {
		return nil, fmt.Errorf("%w: unsupported language %q", ErrInvalid, language)
	}
	sb := &Srcbook{
		Language: language,
		Cells: []Cell{
			{Type: CellTitle, Text: title},
			{Type: CellPackage, Filename: "package.json", Language: "json", Source: defaultPackage(language)},
		},
	}
	if err := s.Save(sb); err != nil {
		return nil, err
	}
	return sb, nil
}

func defaultPackage(language string) string {
	if language == "typescript" {
		return `{
  "type": "module",
  "dependencies": {},
  "devDependencies": {
    "tsx": "latest",
    "typescript": "latest",
    "@types/node": "latest"
  }
}`
	}
	return `{
  "type": "module",
  "dependencies": {}
}`
}

// Import decodes text and saves it as a new srcbook.
func (s *Store) Import(text string) (*Srcbook, error) {
	sb, err := Decode(text)
	if err != nil {
		return nil, err
	}
	if err := s.Save(sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// Save writes sb to disk, assigning an id when it has none. Files of code
// cells that were removed are left in place.
func (s *Store) Save(sb *Srcbook) error {
	if sb.ID == "" {
		sb.ID = uuid.NewString()
	}
	dir, err := s.dir(sb.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		return fmt.Errorf("creating srcbook dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, readme), []byte(Encode(sb)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", readme, err)
	}
	for _, c := range sb.Cells {
		var target string
		switch c.Type {
		case CellPackage:
			target = filepath.Join(dir, "package.json")
		case CellCode:
			clean := filepath.Clean("/" + c.Filename)
			if clean == "/" || strings.Contains(c.Filename, "..") {
				return fmt.Errorf("%w: bad filename %q", ErrInvalid, c.Filename)
			}
			target = filepath.Join(dir, "src", clean)
		default:
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(c.Source), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", c.Filename, err)
		}
	}
	return nil
}

// Get loads a srcbook.
func (s *Store) Get(id string) (*Srcbook, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, readme))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("srcbook %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	sb, err := Decode(string(data))
	if err != nil {
		return nil, err
	}
	sb.ID = id
	return sb, nil
}

// Export returns the .src.md text of a srcbook.
func (s *Store) Export(id string) (string, error) {
	sb, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return Encode(sb), nil
}

// List returns every srcbook, most recently updated first.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []Summary{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(s.root, e.Name(), readme))
		if err != nil {
			continue
		}
		sb, err := s.Get(e.Name())
		if err != nil {
			continue
		}
		out = append(out, Summary{ID: sb.ID, Title: sb.Title(), Language: sb.Language, UpdatedAt: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete removes a srcbook directory.
func (s *Store) Delete(id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("srcbook %s: %w", id, ErrNotFound)
	}
	return os.RemoveAll(dir)
}

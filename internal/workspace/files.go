package workspace

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// hidden entries are never listed, searched or exported.
var hidden = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "directory"
}

// ReadFile returns the content of an app file.
func (w *Workspace) ReadFile(appID, rel string) (string, error) {
	abs, clean, err := w.resolve(appID, rel)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return "", fmt.Errorf("file path is required: %w", ErrInvalidPath)
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("file %s: %w", clean, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", clean, err)
	}
	return string(data), nil
}

// WriteFile creates or replaces a file, creating parent directories.
func (w *Workspace) WriteFile(appID, rel, content string) (Entry, error) {
	abs, clean, err := w.resolve(appID, rel)
	if err != nil {
		return Entry{}, err
	}
	if clean == "" {
		return Entry{}, fmt.Errorf("file path is required: %w", ErrInvalidPath)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Entry{}, fmt.Errorf("creating parent of %s: %w", clean, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Entry{}, fmt.Errorf("writing %s: %w", clean, err)
	}
	return Entry{Name: path.Base(clean), Path: clean, Type: "file"}, nil
}

// DeleteFile removes a single file.
func (w *Workspace) DeleteFile(appID, rel string) error {
	abs, clean, err := w.resolve(appID, rel)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fmt.Errorf("file %s: %w", clean, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if info.IsDir() || clean == "" {
		return fmt.Errorf("%s is a directory: %w", clean, ErrInvalidPath)
	}
	return os.Remove(abs)
}

// Rename moves a file or directory to a new app-relative path.
func (w *Workspace) Rename(appID, from, to string) (Entry, error) {
	src, cleanFrom, err := w.resolve(appID, from)
	if err != nil {
		return Entry{}, err
	}
	dst, cleanTo, err := w.resolve(appID, to)
	if err != nil {
		return Entry{}, err
	}
	if cleanFrom == "" || cleanTo == "" {
		return Entry{}, fmt.Errorf("cannot rename the app root: %w", ErrInvalidPath)
	}
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return Entry{}, fmt.Errorf("%s: %w", cleanFrom, ErrNotFound)
	}
	if err != nil {
		return Entry{}, err
	}
	if _, err := os.Stat(dst); err == nil {
		return Entry{}, fmt.Errorf("%s already exists: %w", cleanTo, ErrInvalidPath)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Entry{}, err
	}
	if err := os.Rename(src, dst); err != nil {
		return Entry{}, fmt.Errorf("renaming %s: %w", cleanFrom, err)
	}
	typ := "file"
	if info.IsDir() {
		typ = "directory"
	}
	return Entry{Name: path.Base(cleanTo), Path: cleanTo, Type: typ}, nil
}

// ListDirectory returns one level of a directory, directories first, each
// group sorted by name.
func (w *Workspace) ListDirectory(appID, rel string) ([]Entry, error) {
	abs, clean, err := w.resolve(appID, rel)
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(abs)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("directory %s: %w", clean, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", clean, err)
	}

	entries := []Entry{}
	for _, item := range items {
		if hidden[item.Name()] {
			continue
		}
		typ := "file"
		if item.IsDir() {
			typ = "directory"
		}
		entries = append(entries, Entry{
			Name: item.Name(),
			Path: path.Join(clean, item.Name()),
			Type: typ,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == "directory"
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// CreateDirectory makes a directory and any missing parents.
func (w *Workspace) CreateDirectory(appID, rel string) (Entry, error) {
	abs, clean, err := w.resolve(appID, rel)
	if err != nil {
		return Entry{}, err
	}
	if clean == "" {
		return Entry{}, fmt.Errorf("directory path is required: %w", ErrInvalidPath)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Entry{}, fmt.Errorf("creating %s: %w", clean, err)
	}
	return Entry{Name: path.Base(clean), Path: clean, Type: "directory"}, nil
}

// DeleteDirectory removes a directory recursively. The app root cannot be
// removed this way.
func (w *Workspace) DeleteDirectory(appID, rel string) error {
	abs, clean, err := w.resolve(appID, rel)
	if err != nil {
		return err
	}
	if clean == "" {
		return fmt.Errorf("cannot delete the app root: %w", ErrInvalidPath)
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fmt.Errorf("directory %s: %w", clean, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", clean, ErrInvalidPath)
	}
	return os.RemoveAll(abs)
}

// File is a path and its content, used when handing an app to the model.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// maxContextFile bounds how much of a single file is included in Files.
const maxContextFile = 64 << 10

var skipContext = map[string]bool{
	"package-lock.json": true,
	"pnpm-lock.yaml":    true,
	"yarn.lock":         true,
}

// Files returns every text file of the app, sorted by path, skipping lock
// files, hidden directories and anything binary or oversized.
func (w *Workspace) Files(appID string) ([]File, error) {
	dir, err := w.existingDir(appID)
	if err != nil {
		return nil, err
	}
	var files []File
	err = walkText(dir, func(rel string, data []byte) error {
		if skipContext[path.Base(rel)] || len(data) > maxContextFile {
			return nil
		}
		files = append(files, File{Path: rel, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

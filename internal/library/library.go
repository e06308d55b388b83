// Package library reads the local video library: one folder per show, each
// with a list.txt naming the upstream video it mirrors.
package library

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"thirdcoast.systems/shelf/internal/videoid"
)

// ListFileName is the per-folder file holding the video id or URL.
const ListFileName = "list.txt"

var (
	// ErrNotFound is returned for folders or files that do not exist.
	ErrNotFound = errors.New("library: not found")
	// ErrInvalidPath is returned for paths escaping the library root.
	ErrInvalidPath = errors.New("library: invalid path")
	// ErrNoListFile is returned when a folder has no list.txt.
	ErrNoListFile = errors.New("library: list.txt not found")
	// ErrEmptyListFile is returned when list.txt has no usable line.
	ErrEmptyListFile = errors.New("library: list.txt is empty")
)

// Folder is one subfolder of the library.
type Folder struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	HasListFile bool   `json:"has_list_file"`
}

// Library is rooted at the videos directory.
type Library struct {
	root string
}

// New returns a library rooted at root.
func New(root string) *Library {
	return &Library{root: root}
}

// Root returns the library root directory.
func (l *Library) Root() string {
	return l.root
}

// Dir resolves a slash-separated path relative to the root. The empty path
// is the root itself.
func (l *Library) Dir(rel string) (string, error) {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return l.root, nil
	}
	local := filepath.FromSlash(path.Clean(rel))
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(l.root, local), nil
}

// File resolves a file inside a library folder.
func (l *Library) File(rel, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	dir, err := l.Dir(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Folders lists the subfolders of rel, sorted for Chinese readers.
func (l *Library) Folders(rel string) ([]Folder, error) {
	dir, err := l.Dir(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: folder %q", ErrNotFound, rel)
		}
		return nil, err
	}

	base := strings.Trim(rel, "/")
	folders := make([]Folder, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		folders = append(folders, Folder{
			Name:        e.Name(),
			Path:        path.Join(base, e.Name()),
			HasListFile: fileExists(filepath.Join(dir, e.Name(), ListFileName)),
		})
	}
	SortFolders(folders)
	return folders, nil
}

// SortFolders orders folders by name using Chinese collation, so pinyin
// order applies to Han characters and digits sort numerically.
func SortFolders(folders []Folder) {
	c := collate.New(language.Chinese, collate.Numeric)
	sort.SliceStable(folders, func(i, j int) bool {
		return c.CompareString(folders[i].Name, folders[j].Name) < 0
	})
}

// VideoID reads rel/list.txt and extracts the id on its first non-empty,
// non-comment line.
func (l *Library) VideoID(rel string) (string, error) {
	line, err := l.ListEntry(rel)
	if err != nil {
		return "", err
	}
	return videoid.Extract(line)
}

// ListEntry returns the first usable line of rel/list.txt verbatim.
func (l *Library) ListEntry(rel string) (string, error) {
	listPath, err := l.File(rel, ListFileName)
	if err != nil {
		return "", err
	}
	f, err := os.Open(listPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoListFile
		}
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\uFEFF"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", ErrEmptyListFile
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

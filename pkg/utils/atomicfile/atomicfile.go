// Package atomicfile writes files via a temp file in the target directory
// and a rename, so readers never observe a partial file.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Writer stages content for path. Call Commit to publish it or Abort to
// discard it; Abort after Commit is a no-op, so it can be deferred.
type Writer struct {
	path    string
	tmpPath string
	file    *os.File
	done    bool
}

// New creates the target directory if needed and opens a temp file next to
// path.
func New(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".shelf-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &Writer{path: path, tmpPath: tmp.Name(), file: tmp}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Commit syncs the temp file and renames it over path.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(w.tmpPath, 0o644); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Abort discards the temp file.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	return os.Remove(w.tmpPath)
}

// WriteFrom copies r into path atomically and returns the bytes written.
func WriteFrom(path string, r io.Reader) (int64, error) {
	w, err := New(path)
	if err != nil {
		return 0, err
	}
	defer w.Abort()

	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return n, w.Commit()
}

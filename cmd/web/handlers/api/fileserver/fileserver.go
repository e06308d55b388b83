// Package fileserver serves library videos and cached covers/subtitles with
// validators and Range support.
package fileserver

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// ETagMode determines how ETags are computed.
type ETagMode int

const (
	// ETagWeakStat uses file size and modtime. Used for merged videos,
	// which are too large to hash per request.
	ETagWeakStat ETagMode = iota
	// ETagStrongSHA256 hashes the content. Used for covers and subtitles.
	ETagStrongSHA256
)

type etagEntry struct {
	size    int64
	modTime time.Time
	mode    ETagMode
	etag    string
}

// ETagCache memoizes ETags per path until the file's size or modtime changes.
type ETagCache struct {
	mu      sync.RWMutex
	entries map[string]etagEntry
}

func NewETagCache() *ETagCache {
	return &ETagCache{entries: make(map[string]etagEntry)}
}

// ETag returns the cached tag for path or computes a fresh one.
func (c *ETagCache) ETag(path string, info os.FileInfo, mode ETagMode) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && e.mode == mode && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.etag, nil
	}

	etag, err := computeETag(path, info, mode)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[path] = etagEntry{size: info.Size(), modTime: info.ModTime(), mode: mode, etag: etag}
	c.mu.Unlock()
	return etag, nil
}

func computeETag(path string, info os.FileInfo, mode ETagMode) (string, error) {
	switch mode {
	case ETagWeakStat:
		return fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size()), nil
	case ETagStrongSHA256:
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}
		return fmt.Sprintf(`"%x"`, h.Sum(nil)), nil
	default:
		return "", fmt.Errorf("unknown etag mode: %d", mode)
	}
}

// FileServer serves files from disk.
type FileServer struct {
	etags *ETagCache
}

func NewFileServer() *FileServer {
	return &FileServer{etags: NewETagCache()}
}

// Serve writes the file at absPath. If-None-Match is answered here;
// If-Modified-Since and Range are left to http.ServeContent.
func (fs *FileServer) Serve(c echo.Context, absPath, contentType, cacheControl string, mode ETagMode) error {
	info, err := os.Stat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}

	h := c.Response().Header()
	if etag, err := fs.etags.ETag(absPath, info, mode); err == nil {
		if matchesETag(c.Request().Header.Get("If-None-Match"), etag) {
			h.Set("ETag", etag)
			return c.NoContent(http.StatusNotModified)
		}
		h.Set("ETag", etag)
	}
	if cacheControl != "" {
		h.Set(echo.HeaderCacheControl, cacheControl)
	}
	if contentType != "" {
		h.Set(echo.HeaderContentType, contentType)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	defer f.Close()

	http.ServeContent(c.Response(), c.Request(), filepath.Base(absPath), info.ModTime(), f)
	return nil
}

func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

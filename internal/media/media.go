// Package media downloads and caches per-part cover images and subtitles.
// Cached files are named deterministically, so a file on disk is a hit.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"thirdcoast.systems/shelf/internal/platform"
	"thirdcoast.systems/shelf/pkg/utils/atomicfile"
)

var (
	// ErrNoSource is returned when a cover is not cached and no source URL
	// was given.
	ErrNoSource = errors.New("media: no cover source")
	// ErrNoCredential is returned for subtitle work without a session cookie.
	ErrNoCredential = errors.New("media: no session credential configured")
	// ErrNoSubtitle is returned when no human-authored track exists.
	ErrNoSubtitle = errors.New("media: no eligible subtitle track")
)

// QuerySigner signs parameter sets for signed endpoints.
type QuerySigner interface {
	SignedQuery(ctx context.Context, params map[string]any) (url.Values, error)
}

// Config locates the caches and carries the session credential.
type Config struct {
	CoversDir    string
	SubtitlesDir string
	Cookie       string
}

// Acquirer fetches covers and subtitles through the governor.
type Acquirer struct {
	getter    platform.Getter
	signer    QuerySigner
	endpoints platform.Endpoints
	cfg       Config
	locks     *keyLock
}

// New returns an Acquirer writing into the configured directories.
func New(getter platform.Getter, signer QuerySigner, endpoints platform.Endpoints, cfg Config) *Acquirer {
	return &Acquirer{
		getter:    getter,
		signer:    signer,
		endpoints: endpoints,
		cfg:       cfg,
		locks:     newKeyLock(),
	}
}

// HasCredential reports whether subtitle operations can run at all.
func (a *Acquirer) HasCredential() bool {
	return a.cfg.Cookie != ""
}

// CoverPath is where the cover of a part is cached.
func (a *Acquirer) CoverPath(bvid string, page int) string {
	return filepath.Join(a.cfg.CoversDir, fmt.Sprintf("%s_p%d.jpg", bvid, page))
}

// SubtitlePath is where the subtitle of a part is cached.
func (a *Acquirer) SubtitlePath(bvid string, page int) string {
	return filepath.Join(a.cfg.SubtitlesDir, fmt.Sprintf("%s_p%d.vtt", bvid, page))
}

// CachedCover returns the cover path when it is already on disk.
func (a *Acquirer) CachedCover(bvid string, page int) (string, bool) {
	path := a.CoverPath(bvid, page)
	return path, fileExists(path)
}

// Cover returns the local path of the part's cover, downloading it from
// sourceURL on a miss.
func (a *Acquirer) Cover(ctx context.Context, bvid string, page int, sourceURL string) (string, error) {
	path := a.CoverPath(bvid, page)
	if fileExists(path) {
		return path, nil
	}
	if sourceURL == "" {
		return "", ErrNoSource
	}

	unlock := a.locks.Lock(path)
	defer unlock()
	if fileExists(path) {
		return path, nil
	}

	resp, err := a.getter.Get(ctx, platform.NormalizeURL(sourceURL))
	if err != nil {
		return "", fmt.Errorf("download cover %s p%d: %w", bvid, page, err)
	}
	defer resp.Body.Close()

	n, err := atomicfile.WriteFrom(path, resp.Body)
	if err != nil {
		return "", fmt.Errorf("store cover %s p%d: %w", bvid, page, err)
	}
	slog.Debug("cached cover", "bvid", bvid, "page", page, "size", humanize.Bytes(uint64(n)))
	return path, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("stat cache file", "path", path, "error", err)
		}
		return false
	}
	return info.Mode().IsRegular()
}

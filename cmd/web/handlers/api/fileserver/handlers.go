package fileserver

import (
	"net/http"
	"path"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/shelf/cmd/web/handlers/common"
	"thirdcoast.systems/shelf/internal/library"
)

const (
	videoCacheControl = "private, max-age=3600"
	assetCacheControl = "public, max-age=86400, stale-while-revalidate=3600"
)

// HandleLibraryFile serves /static/<folder>/<file> from the videos directory.
func HandleLibraryFile(lib *library.Library, fs *FileServer) echo.HandlerFunc {
	return func(c echo.Context) error {
		dir, name := path.Split(common.WildcardPath(c))
		abs, err := lib.File(dir, name)
		if err != nil {
			return common.ErrNotFound("file not found")
		}
		return fs.Serve(c, abs, "", videoCacheControl, ETagWeakStat)
	}
}

// HandleCacheFile serves a flat cache directory by :file.
func HandleCacheFile(dir, contentType string, fs *FileServer) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("file")
		if name == "" || name != filepath.Base(name) || !filepath.IsLocal(name) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return fs.Serve(c, filepath.Join(dir, name), contentType, assetCacheControl, ETagStrongSHA256)
	}
}

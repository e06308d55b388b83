// Package video_api serves per-part video operations: covers, playback and
// subtitles.
package video_api

import (
	"errors"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/shelf/cmd/web/handlers/common"
	"thirdcoast.systems/shelf/internal/library"
	"thirdcoast.systems/shelf/internal/metadata"
)

var errNoParts = errors.New("video has no parts")

type resolvedPart struct {
	Folder string
	BVID   string
	Part   metadata.VideoPart
}

// resolvePart turns "<folder>/<page>" into the upstream part it names.
func resolvePart(c echo.Context, lib *library.Library, cache *metadata.Cache) (resolvedPart, error) {
	folder, page, err := common.SplitFolderPage(common.WildcardPath(c))
	if err != nil {
		return resolvedPart{}, err
	}
	bvid, err := lib.VideoID(folder)
	if err != nil {
		return resolvedPart{}, common.TranslateError(err, "failed to read list.txt")
	}
	parts, err := cache.Parts(c.Request().Context(), bvid)
	if err == nil && len(parts) == 0 {
		err = errNoParts
	}
	if err != nil {
		return resolvedPart{}, common.TranslateError(err, "could not fetch video parts")
	}
	part, ok := metadata.FindPart(parts, page)
	if !ok {
		return resolvedPart{}, common.ErrNotFound("page not found")
	}
	return resolvedPart{Folder: folder, BVID: bvid, Part: part}, nil
}

func coverURL(path string) string {
	return common.PublicPath("/covers", filepath.Base(path))
}

func subtitleURL(path string) string {
	return common.PublicPath("/subtitles", filepath.Base(path))
}

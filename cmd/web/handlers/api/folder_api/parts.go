package folder_api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
	"thirdcoast.systems/shelf/cmd/web/handlers/common"
	"thirdcoast.systems/shelf/internal/library"
	"thirdcoast.systems/shelf/internal/media"
	"thirdcoast.systems/shelf/internal/metadata"
)

const detailsSuffix = "/details"

var errNoParts = errors.New("video has no parts")

// subtitleFanOut bounds concurrent availability checks per request. The
// governor still applies its own global limits.
const subtitleFanOut = 8

type partSummary struct {
	Title    string `json:"title"`
	Page     int    `json:"page"`
	Duration int    `json:"duration"`
	CID      int64  `json:"cid"`
	BVID     string `json:"bvid"`
}

type partDetails struct {
	Page        int    `json:"page"`
	CoverSource string `json:"cover_source"`
	HasSubtitle bool   `json:"has_subtitle"`
}

// HandleFolder answers /api/folders/<path> with the basic part list and
// /api/folders/<path>/details with cover sources and subtitle availability.
func HandleFolder(lib *library.Library, cache *metadata.Cache, acq *media.Acquirer) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := common.WildcardPath(c)
		if folder, ok := strings.CutSuffix(p, detailsSuffix); ok {
			return folderDetails(c, lib, cache, acq, folder)
		}
		return folderParts(c, lib, cache, p)
	}
}

func folderParts(c echo.Context, lib *library.Library, cache *metadata.Cache, folder string) error {
	bvid, err := lib.VideoID(folder)
	if err != nil {
		return common.TranslateError(err, "failed to read list.txt")
	}
	parts, err := cache.Parts(c.Request().Context(), bvid)
	if err != nil || len(parts) == 0 {
		return common.TranslateError(orEmpty(err), "could not fetch video parts")
	}

	out := make([]partSummary, 0, len(parts))
	for _, part := range parts {
		out = append(out, partSummary{
			Title:    part.Title,
			Page:     part.Page,
			Duration: part.Duration,
			CID:      part.CID,
			BVID:     bvid,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func folderDetails(c echo.Context, lib *library.Library, cache *metadata.Cache, acq *media.Acquirer, folder string) error {
	bvid, err := lib.VideoID(folder)
	if err != nil {
		return common.TranslateError(err, "failed to read list.txt")
	}
	ctx := c.Request().Context()
	parts, err := cache.PartsWithCovers(ctx, bvid)
	if err != nil || len(parts) == 0 {
		return common.TranslateError(orEmpty(err), "could not fetch detailed video parts")
	}

	out := make([]partDetails, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(subtitleFanOut)
	for i, part := range parts {
		out[i] = partDetails{Page: part.Page, CoverSource: part.CoverURL}
		g.Go(func() error {
			out[i].HasSubtitle = subtitleAvailable(gctx, acq, bvid, part)
			return nil
		})
	}
	_ = g.Wait()
	return c.JSON(http.StatusOK, out)
}

// subtitleAvailable treats lookup failures as "no subtitle" so one bad part
// does not fail the listing.
func subtitleAvailable(ctx context.Context, acq *media.Acquirer, bvid string, part metadata.VideoPart) bool {
	ok, err := acq.SubtitleAvailable(ctx, bvid, part.CID)
	if err != nil {
		slog.Warn("subtitle availability check failed", "bvid", bvid, "page", part.Page, "error", err)
		return false
	}
	return ok
}

func orEmpty(err error) error {
	if err != nil {
		return err
	}
	return errNoParts
}

package video_api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/shelf/cmd/web/handlers/common"
	"thirdcoast.systems/shelf/internal/library"
	"thirdcoast.systems/shelf/internal/media"
	"thirdcoast.systems/shelf/internal/metadata"
)

type subtitleResponse struct {
	SubtitleURL string `json:"subtitle_url"`
}

// HandleSubtitle returns the cached subtitle URL of a part, fetching and
// converting it on a miss.
func HandleSubtitle(lib *library.Library, cache *metadata.Cache, acq *media.Acquirer) echo.HandlerFunc {
	return func(c echo.Context) error {
		rp, err := resolvePart(c, lib, cache)
		if err != nil {
			return err
		}
		path, err := acq.Subtitle(c.Request().Context(), rp.BVID, rp.Part.Page, rp.Part.CID)
		if err != nil {
			if !errors.Is(err, media.ErrNoSubtitle) && !errors.Is(err, media.ErrNoCredential) {
				slog.Warn("subtitle fetch failed", "bvid", rp.BVID, "page", rp.Part.Page, "error", err)
			}
			return common.ErrNotFound("no subtitle available")
		}
		return c.JSON(http.StatusOK, subtitleResponse{SubtitleURL: subtitleURL(path)})
	}
}

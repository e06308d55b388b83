package video_api

import (
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/shelf/cmd/web/handlers/common"
	"thirdcoast.systems/shelf/internal/library"
	"thirdcoast.systems/shelf/internal/media"
	"thirdcoast.systems/shelf/internal/merge"
	"thirdcoast.systems/shelf/internal/metadata"
)

type playResponse struct {
	Status      string  `json:"status"`
	JobID       string  `json:"job_id"`
	VideoURL    string  `json:"video_url"`
	SubtitleURL *string `json:"subtitle_url"`
}

// HandlePlay makes sure the merged file of a part exists, merging it on a
// dispatcher worker if needed, and returns where to stream it from. A
// client that disconnects early leaves the job running.
func HandlePlay(lib *library.Library, cache *metadata.Cache, acq *media.Acquirer, dispatcher *merge.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		rp, err := resolvePart(c, lib, cache)
		if err != nil {
			return err
		}
		targetDir, err := lib.Dir(rp.Folder)
		if err != nil {
			return common.TranslateError(err, "invalid folder")
		}

		job, err := dispatcher.Submit(merge.Request{BVID: rp.BVID, Part: rp.Part, TargetDir: targetDir})
		if err != nil {
			return common.TranslateError(err, "failed to queue download")
		}
		ctx := c.Request().Context()
		path, err := job.Wait(ctx)
		if err != nil {
			return common.TranslateError(err, "failed to download video")
		}

		resp := playResponse{
			Status:   "ready",
			JobID:    job.ID,
			VideoURL: common.PublicPath("/static", rp.Folder, filepath.Base(path)),
		}
		if sub, err := acq.Subtitle(ctx, rp.BVID, rp.Part.Page, rp.Part.CID); err == nil {
			u := subtitleURL(sub)
			resp.SubtitleURL = &u
		}
		return c.JSON(http.StatusOK, resp)
	}
}

package video_api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
	"thirdcoast.systems/shelf/cmd/web/handlers/common"
	"thirdcoast.systems/shelf/internal/media"
	"thirdcoast.systems/shelf/internal/metadata"
)

const coverFanOut = 8

type batchCoversResponse struct {
	Covers map[string]string `json:"covers"`
}

type coverResponse struct {
	CoverURL string `json:"cover_url"`
	Cached   bool   `json:"cached"`
}

// HandleBatchCovers downloads the covers of ?pages=1,2,3 concurrently.
// Pages without a cover source or whose download fails are left out.
func HandleBatchCovers(cache *metadata.Cache, acq *media.Acquirer) echo.HandlerFunc {
	return func(c echo.Context) error {
		bvid := c.Param("bvid")
		pages := common.ParsePageList(c.QueryParam("pages"))
		resp := batchCoversResponse{Covers: map[string]string{}}

		ctx := c.Request().Context()
		parts, err := cache.PartsWithCovers(ctx, bvid)
		if err != nil {
			slog.Warn("batch covers: part lookup failed", "bvid", bvid, "error", err)
			return c.JSON(http.StatusOK, resp)
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(coverFanOut)
		for _, page := range pages {
			part, ok := metadata.FindPart(parts, page)
			if !ok || part.CoverURL == "" {
				continue
			}
			g.Go(func() error {
				path, err := acq.Cover(gctx, bvid, page, part.CoverURL)
				if err != nil {
					slog.Warn("cover download failed", "bvid", bvid, "page", page, "error", err)
					return nil
				}
				mu.Lock()
				resp.Covers[strconv.Itoa(page)] = coverURL(path)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		return c.JSON(http.StatusOK, resp)
	}
}

// HandleCover returns one cover, downloading it on a miss.
func HandleCover(cache *metadata.Cache, acq *media.Acquirer) echo.HandlerFunc {
	return func(c echo.Context) error {
		bvid := c.Param("bvid")
		page, err := common.RequirePageParam(c, "page")
		if err != nil {
			return err
		}
		if path, ok := acq.CachedCover(bvid, page); ok {
			return c.JSON(http.StatusOK, coverResponse{CoverURL: coverURL(path), Cached: true})
		}

		ctx := c.Request().Context()
		parts, err := cache.PartsWithCovers(ctx, bvid)
		if err != nil {
			return common.TranslateError(err, "failed to retrieve cover")
		}
		part, ok := metadata.FindPart(parts, page)
		if !ok || part.CoverURL == "" {
			return c.JSON(http.StatusOK, coverResponse{})
		}

		path, err := acq.Cover(ctx, bvid, page, part.CoverURL)
		if err != nil {
			return common.TranslateError(err, "failed to retrieve cover")
		}
		return c.JSON(http.StatusOK, coverResponse{CoverURL: coverURL(path)})
	}
}

// Package job_api exposes merge job status.
package job_api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/shelf/cmd/web/handlers/common"
	"thirdcoast.systems/shelf/internal/merge"
)

// HandleStatus returns the status of a merge job by id.
func HandleStatus(dispatcher *merge.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, ok := dispatcher.Job(c.Param("id"))
		if !ok {
			return common.ErrNotFound("job not found")
		}
		return c.JSON(http.StatusOK, job.Status())
	}
}

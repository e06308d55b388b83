// Package folder_api lists library folders and the parts of the video each
// folder mirrors.
package folder_api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/shelf/cmd/web/handlers/common"
	"thirdcoast.systems/shelf/internal/library"
)

// HandleIndex lists the subfolders of ?path= (the library root by default).
func HandleIndex(lib *library.Library) echo.HandlerFunc {
	return func(c echo.Context) error {
		folders, err := lib.Folders(c.QueryParam("path"))
		if err != nil {
			return common.TranslateError(err, "failed to list folders")
		}
		return c.JSON(http.StatusOK, folders)
	}
}

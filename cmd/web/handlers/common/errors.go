package common

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/shelf/internal/governor"
	"thirdcoast.systems/shelf/internal/library"
	"thirdcoast.systems/shelf/internal/media"
	"thirdcoast.systems/shelf/internal/merge"
	"thirdcoast.systems/shelf/internal/videoid"
)

// ErrBadRequest returns a 400 Bad Request error.
func ErrBadRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// ErrNotFound returns a 404 Not Found error.
func ErrNotFound(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusNotFound, msg)
}

// ErrInternal returns a 500 Internal Server Error.
func ErrInternal(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

// TranslateError maps a service error to an HTTP error. msg prefixes the
// message of 5xx answers.
func TranslateError(err error, msg string) *echo.HTTPError {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, library.ErrInvalidPath),
		errors.Is(err, videoid.ErrNoID),
		errors.Is(err, videoid.ErrUnsupportedHost):
		return ErrBadRequest(err.Error())
	case errors.Is(err, library.ErrNoListFile):
		return ErrNotFound("'list.txt' not found")
	case errors.Is(err, library.ErrEmptyListFile):
		return ErrNotFound("'list.txt' is empty")
	case errors.Is(err, library.ErrNotFound):
		return ErrNotFound("folder not found")
	case errors.Is(err, media.ErrNoSubtitle),
		errors.Is(err, media.ErrNoCredential):
		return ErrNotFound("no subtitle available")
	case errors.Is(err, governor.ErrCoolingDown),
		errors.Is(err, governor.ErrRateLimited),
		errors.Is(err, merge.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, msg+": "+err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
		return echo.NewHTTPError(499, "request canceled")
	}
	slog.Error(msg, "error", err)
	return ErrInternal(msg + ": " + err.Error())
}

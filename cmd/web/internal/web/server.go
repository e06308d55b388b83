package web

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"thirdcoast.systems/shelf/cmd/web/handlers/api/fileserver"
	"thirdcoast.systems/shelf/cmd/web/handlers/api/folder_api"
	"thirdcoast.systems/shelf/cmd/web/handlers/api/job_api"
	"thirdcoast.systems/shelf/cmd/web/handlers/api/video_api"
	"thirdcoast.systems/shelf/internal/application"
)

type Webserver struct {
	*echo.Echo
	services   *application.Services
	fileServer *fileserver.FileServer
}

func NewWebserver(services *application.Services) (*Webserver, error) {
	webserver := &Webserver{
		Echo:       echo.New(),
		services:   services,
		fileServer: fileserver.NewFileServer(),
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}
	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}
	return webserver, nil
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))
	return nil
}

func (s *Webserver) registerRoutes() error {
	svc := s.services
	conf := svc.Config

	s.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	apiGroup := s.Group("/api")
	apiGroup.GET("/folders", folder_api.HandleIndex(svc.Library))
	apiGroup.GET("/folders/*", folder_api.HandleFolder(svc.Library, svc.Metadata, svc.Media))
	apiGroup.GET("/batch/covers/:bvid", video_api.HandleBatchCovers(svc.Metadata, svc.Media))
	apiGroup.GET("/cover/:bvid/:page", video_api.HandleCover(svc.Metadata, svc.Media))
	apiGroup.GET("/play/*", video_api.HandlePlay(svc.Library, svc.Metadata, svc.Media, svc.Dispatcher))
	apiGroup.GET("/subtitle/*", video_api.HandleSubtitle(svc.Library, svc.Metadata, svc.Media))
	apiGroup.GET("/jobs/:id", job_api.HandleStatus(svc.Dispatcher))

	s.GET("/static/*", fileserver.HandleLibraryFile(svc.Library, s.fileServer))
	s.GET("/covers/:file", fileserver.HandleCacheFile(conf.CoversDir, "image/jpeg", s.fileServer))
	s.GET("/subtitles/:file", fileserver.HandleCacheFile(conf.SubtitlesDir, "text/vtt; charset=utf-8", s.fileServer))

	return nil
}

// Package application wires the shelf services from a loaded configuration.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"thirdcoast.systems/shelf/internal/config"
	"thirdcoast.systems/shelf/internal/governor"
	"thirdcoast.systems/shelf/internal/library"
	"thirdcoast.systems/shelf/internal/media"
	"thirdcoast.systems/shelf/internal/merge"
	"thirdcoast.systems/shelf/internal/metadata"
	"thirdcoast.systems/shelf/internal/platform"
	"thirdcoast.systems/shelf/internal/signing"
	"thirdcoast.systems/shelf/pkg/ffmpeg"
)

// Services is the shared object graph of cmd/web and cmd/fetch. Every
// outbound call of every component goes through the one Governor.
type Services struct {
	Config     *config.Config
	Endpoints  platform.Endpoints
	Governor   *governor.Governor
	Signer     *signing.Signer
	Metadata   *metadata.Cache
	Media      *media.Acquirer
	Pipeline   *merge.Pipeline
	Dispatcher *merge.Dispatcher
	Library    *library.Library
}

// GovernorConfig derives the governor settings from conf.
func GovernorConfig(conf *config.Config) governor.Config {
	cfg := governor.DefaultConfig()
	cfg.MaxConcurrent = conf.Outbound.MaxConcurrency
	cfg.MaxQPS = conf.Outbound.MaxQPS
	cfg.MaxCooldown = conf.Outbound.MaxCooldown()
	cfg.Timeout = conf.Outbound.Timeout
	cfg.InsecureTLS = conf.Outbound.InsecureTLS
	cfg.Header = platform.DefaultHeader()
	if cfg.CooldownBase > cfg.MaxCooldown {
		cfg.CooldownBase = cfg.MaxCooldown
	}
	return cfg
}

// NewServices builds every component from conf. The dispatcher is not
// started; call Start.
func NewServices(conf *config.Config) (*Services, error) {
	if conf == nil {
		return nil, fmt.Errorf("nil config")
	}

	gov := governor.New(GovernorConfig(conf))
	endpoints := platform.NewEndpoints(conf.APIBaseURL, conf.WebBaseURL)

	signer := signing.NewSigner(gov, endpoints, conf.BilibiliCookie)
	pipeline := merge.NewPipeline(gov, endpoints, ffmpeg.NewMuxer(conf.Merge.FFmpegPath), merge.Config{
		Quality:         conf.Merge.StreamQuality,
		ParallelStreams: conf.Merge.ParallelStreams,
		MaxBytesPerSec:  conf.Merge.MaxBytesPerSec,
	})

	return &Services{
		Config:    conf,
		Endpoints: endpoints,
		Governor:  gov,
		Signer:    signer,
		Metadata:  metadata.NewCache(gov, endpoints),
		Media: media.New(gov, signer, endpoints, media.Config{
			CoversDir:    conf.CoversDir,
			SubtitlesDir: conf.SubtitlesDir,
			Cookie:       conf.BilibiliCookie,
		}),
		Pipeline:   pipeline,
		Dispatcher: merge.NewDispatcher(pipeline, conf.Merge.Workers, conf.Merge.QueueSize),
		Library:    library.New(conf.VideosDir),
	}, nil
}

// Start creates the cache directories and launches the merge workers.
func (s *Services) Start(ctx context.Context) error {
	if err := EnsureDirs(s.Config.VideosDir, s.Config.CoversDir, s.Config.SubtitlesDir); err != nil {
		return err
	}
	if _, err := exec.LookPath(s.Config.Merge.FFmpegPath); err != nil {
		slog.Warn("ffmpeg not found; merge jobs will fail", "path", s.Config.Merge.FFmpegPath, "error", err)
	}
	if !s.Media.HasCredential() {
		slog.Info("BILIBILI_COOKIE not set; subtitles disabled")
	}
	s.Dispatcher.Start(ctx)
	return nil
}

// Close stops the merge workers after their current jobs.
func (s *Services) Close() {
	s.Dispatcher.Close()
}

// EnsureDirs creates every directory that does not exist yet.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

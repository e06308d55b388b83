package config

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Success_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, 8000, cfg.WebServerPort)
	require.Equal(t, "videos", cfg.VideosDir)
	require.Equal(t, "covers", cfg.CoversDir)
	require.Equal(t, "subtitles", cfg.SubtitlesDir)
	require.Empty(t, cfg.BilibiliCookie)
	require.Equal(t, 3, cfg.Outbound.MaxConcurrency)
	require.Equal(t, 2.0, cfg.Outbound.MaxQPS)
	require.Equal(t, 300*time.Second, cfg.Outbound.MaxCooldown())
	require.Equal(t, 30*time.Second, cfg.Outbound.Timeout)
	require.False(t, cfg.Outbound.InsecureTLS)
	require.Equal(t, 2, cfg.Merge.Workers)
	require.True(t, cfg.Merge.ParallelStreams)
	require.Equal(t, 80, cfg.Merge.StreamQuality)
	require.Equal(t, "ffmpeg", cfg.Merge.FFmpegPath)
	require.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadConfig_Overrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("WEBSERVER_PORT", "8080")
	t.Setenv("VIDEOS_DIR", "/srv/videos")
	t.Setenv("BILIBILI_COOKIE", "SESSDATA=abc")
	t.Setenv("OUTBOUND_MAX_CONCURRENCY", "5")
	t.Setenv("OUTBOUND_MAX_QPS", "0.5")
	t.Setenv("OUTBOUND_MAX_COOLDOWN", "600")
	t.Setenv("OUTBOUND_TIMEOUT", "45s")
	t.Setenv("OUTBOUND_INSECURE_TLS", "true")
	t.Setenv("MERGE_PARALLEL_STREAMS", "false")
	t.Setenv("DOWNLOAD_MAX_BYTES_PER_SEC", "1048576")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.WebServerPort)
	require.Equal(t, "/srv/videos", cfg.VideosDir)
	require.Equal(t, "SESSDATA=abc", cfg.BilibiliCookie)
	require.Equal(t, 5, cfg.Outbound.MaxConcurrency)
	require.Equal(t, 0.5, cfg.Outbound.MaxQPS)
	require.Equal(t, 10*time.Minute, cfg.Outbound.MaxCooldown())
	require.Equal(t, 45*time.Second, cfg.Outbound.Timeout)
	require.True(t, cfg.Outbound.InsecureTLS)
	require.False(t, cfg.Merge.ParallelStreams)
	require.Equal(t, int64(1048576), cfg.Merge.MaxBytesPerSec)
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadConfig_ValidationError(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("OUTBOUND_MAX_QPS", "0")

	cfg, err := LoadConfig(context.Background())
	require.Error(t, err)
	require.Nil(t, cfg)
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("LOG_LEVEL", "verbose")

	_, err := LoadConfig(context.Background())
	require.Error(t, err)
}

func TestConfig_LogValueRedactsCookie(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logger.Info("config", "config", Config{BilibiliCookie: "SESSDATA=secret"})
	require.NotContains(t, buf.String(), "secret")
	require.Contains(t, buf.String(), "[redacted]")
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT" validate:"min=1,max=65535"`

	// Library Configuration
	VideosDir    string `mapstructure:"VIDEOS_DIR" validate:"required"`
	CoversDir    string `mapstructure:"COVERS_DIR" validate:"required"`
	SubtitlesDir string `mapstructure:"SUBTITLES_DIR" validate:"required"`

	// Upstream Configuration
	BilibiliCookie string `mapstructure:"BILIBILI_COOKIE"`
	APIBaseURL     string `mapstructure:"API_BASE_URL" validate:"omitempty,url"`
	WebBaseURL     string `mapstructure:"WEB_BASE_URL" validate:"omitempty,url"`

	Outbound OutboundConfig `mapstructure:",squash"`
	Merge    MergeConfig    `mapstructure:",squash"`

	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

type OutboundConfig struct {
	MaxConcurrency     int           `mapstructure:"OUTBOUND_MAX_CONCURRENCY" validate:"min=1"`
	MaxQPS             float64       `mapstructure:"OUTBOUND_MAX_QPS" validate:"gt=0"`
	MaxCooldownSeconds int           `mapstructure:"OUTBOUND_MAX_COOLDOWN" validate:"min=1"`
	Timeout            time.Duration `mapstructure:"OUTBOUND_TIMEOUT" validate:"gt=0"`
	InsecureTLS        bool          `mapstructure:"OUTBOUND_INSECURE_TLS"`
}

// MaxCooldown is the cooldown cap as a duration.
func (o OutboundConfig) MaxCooldown() time.Duration {
	return time.Duration(o.MaxCooldownSeconds) * time.Second
}

type MergeConfig struct {
	Workers         int    `mapstructure:"MERGE_WORKERS" validate:"min=1"`
	QueueSize       int    `mapstructure:"MERGE_QUEUE_SIZE" validate:"min=1"`
	ParallelStreams bool   `mapstructure:"MERGE_PARALLEL_STREAMS"`
	StreamQuality   int    `mapstructure:"STREAM_QUALITY" validate:"min=1"`
	MaxBytesPerSec  int64  `mapstructure:"DOWNLOAD_MAX_BYTES_PER_SEC" validate:"min=0"`
	FFmpegPath      string `mapstructure:"FFMPEG_PATH" validate:"required"`
}

// LogValue keeps the session cookie out of logs.
func (c Config) LogValue() slog.Value {
	cookie := ""
	if c.BilibiliCookie != "" {
		cookie = "[redacted]"
	}
	return slog.GroupValue(
		slog.Int("webserver_port", c.WebServerPort),
		slog.String("videos_dir", c.VideosDir),
		slog.String("covers_dir", c.CoversDir),
		slog.String("subtitles_dir", c.SubtitlesDir),
		slog.String("bilibili_cookie", cookie),
		slog.Int("outbound_max_concurrency", c.Outbound.MaxConcurrency),
		slog.Float64("outbound_max_qps", c.Outbound.MaxQPS),
		slog.Int("outbound_max_cooldown", c.Outbound.MaxCooldownSeconds),
		slog.Duration("outbound_timeout", c.Outbound.Timeout),
		slog.Int("merge_workers", c.Merge.Workers),
		slog.Bool("merge_parallel_streams", c.Merge.ParallelStreams),
		slog.String("log_level", c.LogLevel),
	)
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag != "" && !strings.HasPrefix(tag, ",") {
			viper.BindEnv(tag)
		}

		// Handle nested structs
		if field.Type.Kind() == reflect.Struct && (tag == "" || tag == ",squash") {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
		}
	}
	slog.Debug("Environment variables bound")
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("WEBSERVER_PORT", 8000)
	viper.SetDefault("VIDEOS_DIR", "videos")
	viper.SetDefault("COVERS_DIR", "covers")
	viper.SetDefault("SUBTITLES_DIR", "subtitles")
	viper.SetDefault("OUTBOUND_MAX_CONCURRENCY", 3)
	viper.SetDefault("OUTBOUND_MAX_QPS", 2.0)
	viper.SetDefault("OUTBOUND_MAX_COOLDOWN", 300)
	viper.SetDefault("OUTBOUND_TIMEOUT", 30*time.Second)
	viper.SetDefault("OUTBOUND_INSECURE_TLS", false)
	viper.SetDefault("MERGE_WORKERS", 2)
	viper.SetDefault("MERGE_QUEUE_SIZE", 64)
	viper.SetDefault("MERGE_PARALLEL_STREAMS", true)
	viper.SetDefault("STREAM_QUALITY", 80)
	viper.SetDefault("DOWNLOAD_MAX_BYTES_PER_SEC", 0)
	viper.SetDefault("FFMPEG_PATH", "ffmpeg")
	viper.SetDefault("LOG_LEVEL", "info")

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	slog.Info("Loaded configuration", "config", cfg)
	return &cfg, nil
}

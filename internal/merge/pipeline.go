// Package merge downloads the separate audio and video streams of a part
// and remuxes them into one file, off the request path.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"thirdcoast.systems/shelf/internal/governor"
	"thirdcoast.systems/shelf/internal/metadata"
	"thirdcoast.systems/shelf/internal/platform"
	"thirdcoast.systems/shelf/pkg/ffmpeg"
	"thirdcoast.systems/shelf/pkg/utils/filename"
)

var (
	// ErrSessionNotFound is returned when the watch page has no session token.
	ErrSessionNotFound = errors.New("merge: session token not found")
	// ErrStreamsMissing is returned when the play info lacks an audio or
	// video stream.
	ErrStreamsMissing = errors.New("merge: audio or video stream missing")
)

var sessionRe = regexp.MustCompile(`"session":"(.*?)"`)

// Remuxer combines a video and an audio file into output.
type Remuxer interface {
	Remux(ctx context.Context, video, audio, output string, onProgress func(ffmpeg.Progress)) error
}

// Config tunes a Pipeline.
type Config struct {
	// Quality is the qn requested from the play-url endpoint.
	Quality int
	// ParallelStreams downloads audio and video concurrently.
	ParallelStreams bool
	// MaxBytesPerSec throttles stream downloads; 0 is unlimited.
	MaxBytesPerSec int64
}

// Pipeline implements DownloadAndMerge.
type Pipeline struct {
	getter    platform.Getter
	endpoints platform.Endpoints
	remuxer   Remuxer
	cfg       Config
	limiter   *rate.Limiter
}

// NewPipeline wires a pipeline. All network calls go through getter.
func NewPipeline(getter platform.Getter, endpoints platform.Endpoints, remuxer Remuxer, cfg Config) *Pipeline {
	if cfg.Quality <= 0 {
		cfg.Quality = 80
	}
	return &Pipeline{
		getter:    getter,
		endpoints: endpoints,
		remuxer:   remuxer,
		cfg:       cfg,
		limiter:   newLimiter(cfg.MaxBytesPerSec),
	}
}

// FinalPath is where the merged file of part lands inside targetDir.
func (p *Pipeline) FinalPath(part metadata.VideoPart, targetDir string) string {
	return filepath.Join(targetDir, filename.Sanitize(part.Title)+".mp4")
}

// DownloadAndMerge produces <targetDir>/<sanitized title>.mp4. An existing
// file is returned as is with no network calls. On failure no temp file or
// partial output is left behind.
func (p *Pipeline) DownloadAndMerge(ctx context.Context, bvid string, part metadata.VideoPart, targetDir string) (string, error) {
	final := p.FinalPath(part, targetDir)
	if fileExists(final) {
		return final, nil
	}

	started := time.Now()
	log := slog.With("bvid", bvid, "page", part.Page)

	session, err := p.session(ctx, bvid, part.Page)
	if err != nil {
		return "", fmt.Errorf("session for %s p%d: %w", bvid, part.Page, err)
	}
	streams, err := p.streams(ctx, bvid, part.CID, session)
	if err != nil {
		return "", fmt.Errorf("play info for %s p%d: %w", bvid, part.Page, err)
	}
	log.Debug("selected streams",
		"video_codecs", streams.video.Codecs, "video_bandwidth", humanize.SI(float64(streams.video.Bandwidth), "bps"),
		"audio_codecs", streams.audio.Codecs, "audio_bandwidth", humanize.SI(float64(streams.audio.Bandwidth), "bps"))

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	base := strings.TrimSuffix(final, ".mp4")
	videoTmp := base + "_video.mp4"
	audioTmp := base + "_audio.m4a"
	defer removeQuietly(videoTmp, audioTmp)

	if err := p.fetchStreams(ctx, streams, videoTmp, audioTmp); err != nil {
		return "", fmt.Errorf("download streams of %s p%d: %w", bvid, part.Page, err)
	}

	err = p.remuxer.Remux(ctx, videoTmp, audioTmp, final, func(pr ffmpeg.Progress) {
		log.Debug("remux progress", "out_time", pr.OutTimeSeconds(), "speed", pr.Speed)
	})
	if err != nil {
		removeQuietly(final)
		return "", fmt.Errorf("remux %s p%d: %w", bvid, part.Page, err)
	}

	log.Info("merged part", "path", final, "elapsed", time.Since(started).Round(time.Millisecond))
	return final, nil
}

func (p *Pipeline) session(ctx context.Context, bvid string, page int) (string, error) {
	html, err := platform.FetchText(ctx, p.getter, p.endpoints.VideoPage(bvid),
		governor.WithQuery(url.Values{"p": {strconv.Itoa(page)}}))
	if err != nil {
		return "", err
	}
	m := sessionRe.FindStringSubmatch(html)
	if m == nil {
		return "", ErrSessionNotFound
	}
	return m[1], nil
}

type dashStream struct {
	BaseURL      string `json:"baseUrl"`
	BaseURLSnake string `json:"base_url"`
	Bandwidth    int64  `json:"bandwidth"`
	Codecs       string `json:"codecs"`
}

func (s dashStream) url() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return s.BaseURLSnake
}

type playInfo struct {
	Dash *struct {
		Video []dashStream `json:"video"`
		Audio []dashStream `json:"audio"`
	} `json:"dash"`
}

type streamPair struct {
	video dashStream
	audio dashStream
}

func (p *Pipeline) streams(ctx context.Context, bvid string, cid int64, session string) (streamPair, error) {
	q := url.Values{
		"cid":     {strconv.FormatInt(cid, 10)},
		"bvid":    {bvid},
		"qn":      {strconv.Itoa(p.cfg.Quality)},
		"fnver":   {"0"},
		"fnval":   {"976"},
		"session": {session},
	}
	info, err := platform.Fetch[playInfo](ctx, p.getter, p.endpoints.PlayURL(), governor.WithQuery(q))
	if err != nil {
		return streamPair{}, err
	}
	if info.Dash == nil || len(info.Dash.Video) == 0 || len(info.Dash.Audio) == 0 {
		return streamPair{}, ErrStreamsMissing
	}
	pair := streamPair{video: info.Dash.Video[0], audio: info.Dash.Audio[0]}
	if pair.video.url() == "" || pair.audio.url() == "" {
		return streamPair{}, ErrStreamsMissing
	}
	return pair, nil
}

func (p *Pipeline) fetchStreams(ctx context.Context, streams streamPair, videoTmp, audioTmp string) error {
	if !p.cfg.ParallelStreams {
		if err := p.download(ctx, streams.audio.url(), audioTmp); err != nil {
			return fmt.Errorf("audio: %w", err)
		}
		if err := p.download(ctx, streams.video.url(), videoTmp); err != nil {
			return fmt.Errorf("video: %w", err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.download(gctx, streams.audio.url(), audioTmp); err != nil {
			return fmt.Errorf("audio: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := p.download(gctx, streams.video.url(), videoTmp); err != nil {
			return fmt.Errorf("video: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (p *Pipeline) download(ctx context.Context, rawURL, dest string) error {
	resp, err := p.getter.Get(ctx, rawURL, governor.Streaming())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}

	var body io.Reader = resp.Body
	if p.limiter != nil {
		body = &throttledReader{ctx: ctx, r: resp.Body, limiter: p.limiter}
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	slog.Debug("downloaded stream", "file", filepath.Base(dest), "size", humanize.Bytes(uint64(n)))
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func removeQuietly(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("remove temp file", "path", path, "error", err)
		}
	}
}

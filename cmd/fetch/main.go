// Command fetch downloads and merges the parts of one video into a folder.
//
//	fetch [-dir DIR] [-pages 1,3] <bvid|url>
//
// It shares configuration and wiring with the web service, so the same
// outbound limits apply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"thirdcoast.systems/shelf/internal/application"
	"thirdcoast.systems/shelf/internal/config"
	"thirdcoast.systems/shelf/internal/merge"
	"thirdcoast.systems/shelf/internal/metadata"
	"thirdcoast.systems/shelf/internal/videoid"
	"thirdcoast.systems/shelf/pkg/utils/format"
)

var errUsage = errors.New("usage: fetch [-dir DIR] [-pages 1,3] <bvid|url>")

type options struct {
	dir   string
	pages []int
	input string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("fetch failed", "error", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	var opts options
	var pages string
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.dir, "dir", "", "target directory (default VIDEOS_DIR)")
	fs.StringVar(&pages, "pages", "", "comma-separated 1-based pages (default all)")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 1 {
		return opts, errUsage
	}
	opts.input = fs.Arg(0)

	for _, raw := range strings.Split(pages, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("invalid page %q", raw)
		}
		opts.pages = append(opts.pages, n)
	}
	return opts, nil
}

// selectParts returns the requested pages in request order, or every part
// when pages is empty.
func selectParts(parts []metadata.VideoPart, pages []int) ([]metadata.VideoPart, error) {
	if len(pages) == 0 {
		return parts, nil
	}
	selected := make([]metadata.VideoPart, 0, len(pages))
	for _, page := range pages {
		part, ok := metadata.FindPart(parts, page)
		if !ok {
			return nil, fmt.Errorf("page %d not found (video has %d parts)", page, len(parts))
		}
		selected = append(selected, part)
	}
	return selected, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	application.InitLogger(os.Stderr, conf.SlogLevel())

	services, err := application.NewServices(conf)
	if err != nil {
		return err
	}
	if err := services.Start(ctx); err != nil {
		return err
	}
	defer services.Close()

	dir := opts.dir
	if dir == "" {
		dir = conf.VideosDir
	}
	if err := application.EnsureDirs(dir); err != nil {
		return err
	}

	bvid, err := videoid.Resolve(ctx, services.Governor, opts.input)
	if err != nil {
		return err
	}
	parts, err := services.Metadata.Parts(ctx, bvid)
	if err != nil {
		return err
	}
	selected, err := selectParts(parts, opts.pages)
	if err != nil {
		return err
	}
	slog.Info("fetching parts", "bvid", bvid, "parts", len(selected), "dir", dir)
	for _, part := range selected {
		fmt.Fprintf(out, "p%d\t%s\t%s\n", part.Page, format.Duration(part.Duration), part.Title)
	}

	started := time.Now()
	jobs := make([]*merge.Job, 0, len(selected))
	for _, part := range selected {
		job, err := services.Dispatcher.Submit(merge.Request{BVID: bvid, Part: part, TargetDir: dir})
		if err != nil {
			return fmt.Errorf("queue page %d: %w", part.Page, err)
		}
		jobs = append(jobs, job)
	}

	var failed int
	var total uint64
	for _, job := range jobs {
		page := job.Request.Part.Page
		path, err := job.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			fmt.Fprintf(out, "p%d\tFAILED\t%v\n", page, err)
			continue
		}
		var size uint64
		if st, err := os.Stat(path); err == nil {
			size = uint64(st.Size())
		}
		total += size
		fmt.Fprintf(out, "p%d\t%s\t%s\n", page, humanize.Bytes(size), path)
	}

	slog.Info("fetch finished",
		"ok", len(jobs)-failed,
		"failed", failed,
		"size", humanize.Bytes(total),
		"elapsed", time.Since(started).Round(time.Millisecond))
	if failed > 0 {
		return fmt.Errorf("%d of %d parts failed", failed, len(jobs))
	}
	return nil
}

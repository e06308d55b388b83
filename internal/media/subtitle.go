package media

import (
	"context"
	"fmt"
	"log/slog"

	"thirdcoast.systems/shelf/internal/governor"
	"thirdcoast.systems/shelf/internal/platform"
	"thirdcoast.systems/shelf/pkg/utils/atomicfile"
	"thirdcoast.systems/shelf/pkg/webvtt"
)

type subtitleTrack struct {
	Lang        string `json:"lan"`
	AIType      *int   `json:"ai_type"`
	SubtitleURL string `json:"subtitle_url"`
}

type playerInfo struct {
	Subtitle struct {
		Subtitles []subtitleTrack `json:"subtitles"`
	} `json:"subtitle"`
}

type subtitleDocument struct {
	Body []struct {
		From    float64 `json:"from"`
		To      float64 `json:"to"`
		Content string  `json:"content"`
	} `json:"body"`
}

// selectTrack returns the first human-authored track with a URL.
func selectTrack(tracks []subtitleTrack) (subtitleTrack, bool) {
	for _, t := range tracks {
		if t.AIType != nil && *t.AIType == 0 && t.SubtitleURL != "" {
			return t, true
		}
	}
	return subtitleTrack{}, false
}

func (a *Acquirer) listTracks(ctx context.Context, bvid string, cid int64) ([]subtitleTrack, error) {
	q, err := a.signer.SignedQuery(ctx, map[string]any{"bvid": bvid, "cid": cid})
	if err != nil {
		return nil, fmt.Errorf("sign player query: %w", err)
	}
	info, err := platform.Fetch[playerInfo](ctx, a.getter, a.endpoints.PlayerInfo(),
		governor.WithQuery(q), governor.WithCookie(a.cfg.Cookie))
	if err != nil {
		return nil, err
	}
	return info.Subtitle.Subtitles, nil
}

// SubtitleAvailable reports whether the part has a human-authored subtitle
// track. It is false without error when no credential is configured.
func (a *Acquirer) SubtitleAvailable(ctx context.Context, bvid string, cid int64) (bool, error) {
	if !a.HasCredential() {
		return false, nil
	}
	tracks, err := a.listTracks(ctx, bvid, cid)
	if err != nil {
		return false, fmt.Errorf("list subtitles of %s: %w", bvid, err)
	}
	_, ok := selectTrack(tracks)
	return ok, nil
}

// Subtitle returns the local path of the part's WebVTT subtitle,
// downloading and converting the first human-authored track on a miss.
func (a *Acquirer) Subtitle(ctx context.Context, bvid string, page int, cid int64) (string, error) {
	if !a.HasCredential() {
		return "", ErrNoCredential
	}

	path := a.SubtitlePath(bvid, page)
	if fileExists(path) {
		return path, nil
	}

	unlock := a.locks.Lock(path)
	defer unlock()
	if fileExists(path) {
		return path, nil
	}

	tracks, err := a.listTracks(ctx, bvid, cid)
	if err != nil {
		return "", fmt.Errorf("list subtitles of %s p%d: %w", bvid, page, err)
	}
	track, ok := selectTrack(tracks)
	if !ok {
		return "", ErrNoSubtitle
	}

	doc, err := platform.FetchJSON[subtitleDocument](ctx, a.getter, platform.NormalizeURL(track.SubtitleURL))
	if err != nil {
		return "", fmt.Errorf("download subtitle %s p%d: %w", bvid, page, err)
	}

	cues := make([]webvtt.Cue, 0, len(doc.Body))
	for _, line := range doc.Body {
		cues = append(cues, webvtt.Cue{Start: line.From, End: line.To, Text: line.Content})
	}

	w, err := atomicfile.New(path)
	if err != nil {
		return "", err
	}
	defer w.Abort()
	if err := webvtt.Write(w, cues); err != nil {
		return "", fmt.Errorf("render subtitle: %w", err)
	}
	if err := w.Commit(); err != nil {
		return "", fmt.Errorf("store subtitle %s p%d: %w", bvid, page, err)
	}

	slog.Debug("cached subtitle", "bvid", bvid, "page", page, "lang", track.Lang, "cues", len(cues))
	return path, nil
}

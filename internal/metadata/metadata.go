// Package metadata fetches and memoizes the part listing of a video.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
	"thirdcoast.systems/shelf/internal/governor"
	"thirdcoast.systems/shelf/internal/platform"
)

var (
	// ErrStateNotFound is returned when the watch page carries no initial state.
	ErrStateNotFound = errors.New("metadata: initial state not found in video page")
	// ErrEmptyID is returned for a blank video id.
	ErrEmptyID = errors.New("metadata: empty video id")
)

var initialStateRe = regexp.MustCompile(`window\.__INITIAL_STATE__=(.*?);\(function\(\)`)

// VideoPart is one page of a multi-part video.
type VideoPart struct {
	Page     int    `json:"page"`
	CID      int64  `json:"cid"`
	Title    string `json:"part"`
	Duration int    `json:"duration"`
	// CoverURL is the remote first frame. It may be protocol-relative and is
	// only present in the WithCovers variant.
	CoverURL string `json:"first_frame,omitempty"`

	// Local artifacts, filled in by callers on their copies.
	CoverPath    string `json:"-"`
	SubtitlePath string `json:"-"`
}

// Variant selects which upstream source a listing comes from.
type Variant int

const (
	// Basic listings come from the page-list API.
	Basic Variant = iota
	// WithCovers listings are scraped from the watch page and include covers.
	WithCovers
)

func (v Variant) String() string {
	if v == WithCovers {
		return "with_covers"
	}
	return "basic"
}

type cacheKey struct {
	bvid    string
	variant Variant
}

// Cache holds part listings for the process lifetime. Entries are replaced
// wholesale and never expire; callers always receive copies.
type Cache struct {
	getter    platform.Getter
	endpoints platform.Endpoints

	mu      sync.RWMutex
	entries map[cacheKey][]VideoPart

	group singleflight.Group
}

// NewCache returns an empty cache fetching through getter.
func NewCache(getter platform.Getter, endpoints platform.Endpoints) *Cache {
	return &Cache{
		getter:    getter,
		endpoints: endpoints,
		entries:   make(map[cacheKey][]VideoPart),
	}
}

// Parts returns the basic listing of bvid.
func (c *Cache) Parts(ctx context.Context, bvid string) ([]VideoPart, error) {
	return c.load(ctx, cacheKey{bvid: bvid, variant: Basic})
}

// PartsWithCovers returns the listing scraped from the watch page, which
// includes a cover source per part.
func (c *Cache) PartsWithCovers(ctx context.Context, bvid string) ([]VideoPart, error) {
	return c.load(ctx, cacheKey{bvid: bvid, variant: WithCovers})
}

func (c *Cache) load(ctx context.Context, key cacheKey) ([]VideoPart, error) {
	if key.bvid == "" {
		return nil, ErrEmptyID
	}
	if parts, ok := c.lookup(key); ok {
		return parts, nil
	}

	// The shared fetch outlives any single caller; each caller still stops
	// waiting when its own ctx is done.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.variant.String()+"/"+key.bvid, func() (any, error) {
		if parts, ok := c.lookup(key); ok {
			return parts, nil
		}

		var parts []VideoPart
		var err error
		if key.variant == WithCovers {
			parts, err = c.fetchFromPage(fetchCtx, key.bvid)
		} else {
			parts, err = c.fetchPageList(fetchCtx, key.bvid)
		}
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("%w: no pages", platform.ErrMalformedPayload)
		}

		c.mu.Lock()
		c.entries[key] = parts
		c.mu.Unlock()
		slog.Debug("cached video parts", "bvid", key.bvid, "variant", key.variant, "parts", len(parts))
		return slices.Clone(parts), nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load %s parts of %s: %w", key.variant, key.bvid, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("load %s parts of %s: %w", key.variant, key.bvid, res.Err)
		}
		// Shared singleflight results are cloned per caller.
		return slices.Clone(res.Val.([]VideoPart)), nil
	}
}

func (c *Cache) lookup(key cacheKey) ([]VideoPart, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	parts, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(parts), true
}

func (c *Cache) fetchPageList(ctx context.Context, bvid string) ([]VideoPart, error) {
	q := url.Values{"bvid": {bvid}, "jsonp": {"jsonp"}}
	return platform.Fetch[[]VideoPart](ctx, c.getter, c.endpoints.PageList(), governor.WithQuery(q))
}

func (c *Cache) fetchFromPage(ctx context.Context, bvid string) ([]VideoPart, error) {
	html, err := platform.FetchText(ctx, c.getter, c.endpoints.VideoPage(bvid))
	if err != nil {
		return nil, err
	}
	return parseInitialState(html)
}

func parseInitialState(html string) ([]VideoPart, error) {
	m := initialStateRe.FindStringSubmatch(html)
	if m == nil {
		return nil, ErrStateNotFound
	}
	var state struct {
		VideoData struct {
			Pages []VideoPart `json:"pages"`
		} `json:"videoData"`
	}
	if err := json.Unmarshal([]byte(m[1]), &state); err != nil {
		return nil, fmt.Errorf("%w: %w", platform.ErrMalformedPayload, err)
	}
	if len(state.VideoData.Pages) == 0 {
		return nil, fmt.Errorf("%w: no pages in initial state", platform.ErrMalformedPayload)
	}
	return state.VideoData.Pages, nil
}

// FindPart returns the part with the given 1-based page number.
func FindPart(parts []VideoPart, page int) (VideoPart, bool) {
	for _, p := range parts {
		if p.Page == page {
			return p, true
		}
	}
	return VideoPart{}, false
}

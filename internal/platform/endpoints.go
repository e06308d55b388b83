// Package platform describes the upstream video platform: its endpoints,
// default request headers and the JSON envelope every API answer uses.
package platform

import (
	"net/http"
	"strings"
)

const (
	defaultAPIBase = "https://api.bilibili.com"
	defaultWebBase = "https://www.bilibili.com"

	// UserAgent is sent with every outbound request.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36"
	// Referer is required by the media CDN.
	Referer = "https://www.bilibili.com/"
)

// Endpoints holds the API and website base URLs. Tests point both at a fake.
type Endpoints struct {
	API string
	Web string
}

// DefaultEndpoints returns the production base URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{API: defaultAPIBase, Web: defaultWebBase}
}

// NewEndpoints trims and defaults the given bases.
func NewEndpoints(apiBase, webBase string) Endpoints {
	e := Endpoints{
		API: strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		Web: strings.TrimRight(strings.TrimSpace(webBase), "/"),
	}
	if e.API == "" {
		e.API = defaultAPIBase
	}
	if e.Web == "" {
		e.Web = defaultWebBase
	}
	return e
}

func (e Endpoints) Nav() string        { return e.API + "/x/web-interface/nav" }
func (e Endpoints) PageList() string   { return e.API + "/x/player/pagelist" }
func (e Endpoints) PlayerInfo() string { return e.API + "/x/player/wbi/v2" }
func (e Endpoints) PlayURL() string    { return e.API + "/x/player/playurl" }

// VideoPage is the public watch page of a video.
func (e Endpoints) VideoPage(bvid string) string {
	return e.Web + "/video/" + bvid
}

// DefaultHeader returns the headers the platform expects from a browser.
func DefaultHeader() http.Header {
	return http.Header{
		"User-Agent": {UserAgent},
		"Referer":    {Referer},
	}
}

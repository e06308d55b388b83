// Package videoid extracts platform video ids (BV ids) from user input.
package videoid

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"thirdcoast.systems/shelf/internal/platform"
)

var (
	// ErrNoID is returned when the input carries no recognizable BV id.
	ErrNoID = errors.New("videoid: no BV id found")
	// ErrUnsupportedHost is returned for URLs of other websites.
	ErrUnsupportedHost = errors.New("videoid: unsupported host")
)

// canonicalDomainByHost maps known hosts to the platform domain.
var canonicalDomainByHost = map[string]string{
	"bilibili.com":     "bilibili.com",
	"www.bilibili.com": "bilibili.com",
	"m.bilibili.com":   "bilibili.com",
	"b23.tv":           "b23.tv",
}

var (
	bareIDRe = regexp.MustCompile(`^BV[0-9A-Za-z]+$`)
	pathIDRe = regexp.MustCompile(`/video/(BV[0-9A-Za-z]+)`)
)

// ResolveCanonicalDomain returns the canonical domain for host, or the
// normalized host when it is not a known alias.
func ResolveCanonicalDomain(host string) string {
	h := normalizeHost(host)
	if c, ok := canonicalDomainByHost[h]; ok {
		return c
	}
	return h
}

// Extract returns the BV id in input, which is either a bare id or a video
// page URL.
func Extract(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrNoID
	}
	if bareIDRe.MatchString(s) {
		return s, nil
	}
	if !strings.Contains(s, "/") {
		return "", fmt.Errorf("%w: %s", ErrNoID, s)
	}

	u, err := parseLoose(s)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoID, s)
	}
	if ResolveCanonicalDomain(u.Host) != "bilibili.com" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedHost, u.Host)
	}
	m := pathIDRe.FindStringSubmatch(u.Path)
	if m == nil {
		return "", fmt.Errorf("%w: %s", ErrNoID, s)
	}
	return m[1], nil
}

// IsShortLink reports whether input is a short link that must be expanded
// before Extract can see the id.
func IsShortLink(input string) bool {
	u, err := parseLoose(strings.TrimSpace(input))
	return err == nil && ResolveCanonicalDomain(u.Host) == "b23.tv"
}

// Resolve is Extract plus short-link expansion through getter.
func Resolve(ctx context.Context, getter platform.Getter, input string) (string, error) {
	if !IsShortLink(input) {
		return Extract(input)
	}

	u, _ := parseLoose(strings.TrimSpace(input))
	resp, err := getter.Get(ctx, u.String())
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", input, err)
	}
	_ = resp.Body.Close()

	if resp.Request == nil || resp.Request.URL == nil {
		return "", fmt.Errorf("%w: %s", ErrNoID, input)
	}
	final := *resp.Request.URL
	final.RawQuery = ""
	final.Fragment = ""
	return Extract(final.String())
}

func parseLoose(s string) (*url.URL, error) {
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func normalizeHost(hostport string) string {
	h := strings.TrimSpace(strings.ToLower(hostport))
	if h == "" {
		return ""
	}
	// url.URL.Host may include port.
	if strings.Contains(h, ":") {
		if parsed, err := url.Parse("//" + h); err == nil && parsed.Hostname() != "" {
			h = parsed.Hostname()
		}
	}
	return strings.TrimSuffix(h, ".")
}

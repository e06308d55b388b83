package common

import (
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// WildcardPath returns the unescaped value of the route's trailing "*".
func WildcardPath(c echo.Context) string {
	raw := c.Param("*")
	if v, err := url.PathUnescape(raw); err == nil {
		raw = v
	}
	return strings.Trim(raw, "/")
}

// ParsePage parses a 1-based page number or returns a 400 error.
func ParsePage(raw string) (int, error) {
	page, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || page < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid page number")
	}
	return page, nil
}

// RequirePageParam extracts the named page route parameter.
func RequirePageParam(c echo.Context, param string) (int, error) {
	return ParsePage(c.Param(param))
}

// SplitFolderPage splits "<folder path>/<page>" as used by the play and
// subtitle routes.
func SplitFolderPage(p string) (string, int, error) {
	folder, last := path.Split(strings.Trim(p, "/"))
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return "", 0, echo.NewHTTPError(http.StatusBadRequest, "folder path required")
	}
	page, err := ParsePage(last)
	if err != nil {
		return "", 0, err
	}
	return folder, page, nil
}

// ParsePageList parses "1,2,3", skipping entries that are not positive
// integers. Duplicates are dropped, order is kept.
func ParsePageList(raw string) []int {
	seen := make(map[int]struct{})
	var pages []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		pages = append(pages, n)
	}
	return pages
}

// PublicPath escapes each segment of a slash-separated path for use in a URL.
func PublicPath(prefix string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(prefix, "/"))
	for _, seg := range segments {
		for _, s := range strings.Split(strings.Trim(seg, "/"), "/") {
			if s == "" {
				continue
			}
			b.WriteByte('/')
			b.WriteString(url.PathEscape(s))
		}
	}
	return b.String()
}

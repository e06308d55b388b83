package governor

import (
	"net/url"
	"strings"
)

// EndpointKey groups a URL into its logical API family: scheme, host and the
// first two path segments. Distinct URLs under the same family share one key,
// so rate limiting and cooldowns apply per family rather than per exact URL.
//
// A URL that does not parse is its own key.
func EndpointKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return u.Scheme + "://" + u.Host + "/" + strings.Join(parts, "/")
}

// Package filename turns arbitrary titles into names safe to create on disk.
package filename

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// invalidCharsRe matches characters not allowed in filenames on common
// filesystems, plus control characters.
var invalidCharsRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// MaxLen bounds the sanitized name in bytes, leaving room for suffixes such
// as "_video.mp4" under the usual 255-byte limit.
const MaxLen = 200

// Fallback is used when nothing usable is left of a title.
const Fallback = "untitled"

// Sanitize removes forbidden characters from name and keeps everything
// else, spaces and CJK included. Surrounding whitespace and trailing dots
// are trimmed, and the result is cut at a rune boundary to MaxLen bytes.
func Sanitize(name string) string {
	s := invalidCharsRe.ReplaceAllString(name, "")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ". ")

	if len(s) > MaxLen {
		cut := MaxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimRight(s[:cut], ". ")
	}

	if s == "" || s == "." || s == ".." {
		return Fallback
	}
	return s
}

// Package webvtt renders timed text cues as a WebVTT document.
package webvtt

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"math"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Header is the literal first line of every WebVTT file.
const Header = "WEBVTT"

var (
	policy = bluemonday.StrictPolicy()

	escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// Cue is one timed line. Start and End are in seconds.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// Timestamp formats seconds as HH:MM:SS.mmm, rounding to the millisecond.
// Negative input is clamped to zero.
func Timestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	totalMillis := int64(math.Round(seconds * 1000))
	h := totalMillis / (3600 * 1000)
	m := (totalMillis / (60 * 1000)) % 60
	s := (totalMillis / 1000) % 60
	ms := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// CleanText strips markup from s and escapes what WebVTT treats as syntax.
// Blank lines are dropped because they would end the cue.
func CleanText(s string) string {
	plain := html.UnescapeString(policy.Sanitize(s))

	lines := strings.Split(strings.ReplaceAll(plain, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, escaper.Replace(line))
	}
	return strings.Join(kept, "\n")
}

// Write renders the header followed by one block per cue.
func Write(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(Header)
	bw.WriteString("\n\n")
	for _, c := range cues {
		bw.WriteString(Timestamp(c.Start))
		bw.WriteString(" --> ")
		bw.WriteString(Timestamp(c.End))
		bw.WriteByte('\n')
		bw.WriteString(CleanText(c.Text))
		bw.WriteString("\n\n")
	}
	return bw.Flush()
}

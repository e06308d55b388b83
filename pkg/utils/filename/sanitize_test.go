package filename

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "第1集 开始", "第1集 开始"},
		{"forbidden chars", `a/b\c*d?e:f"g<h>i|j`, "abcdefghij"},
		{"control chars", "a\tb\nc", "abc"},
		{"trim", "  title.  ", "title"},
		{"only forbidden", `/\*?`, Fallback},
		{"dots", "..", Fallback},
		{"empty", "", Fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_TruncatesAtRuneBoundary(t *testing.T) {
	in := strings.Repeat("字", 100) // 300 bytes
	got := Sanitize(in)
	require.LessOrEqual(t, len(got), MaxLen)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, 66, utf8.RuneCountInString(got))
}

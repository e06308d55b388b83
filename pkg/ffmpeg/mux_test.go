package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript installs a shell script standing in for ffmpeg.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestMuxArgs(t *testing.T) {
	require.Equal(t, []string{
		"-hide_banner", "-y",
		"-i", "v.mp4",
		"-i", "a.m4a",
		"-c", "copy",
		"out.mp4",
	}, MuxArgs("v.mp4", "a.m4a", "out.mp4"))
}

func TestRemux_Success(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	bin := writeScript(t, `echo "$@" > `+argsFile+`
for last; do :; done
printf 'merged' > "$last"
`)

	out := filepath.Join(dir, "out.mp4")
	err := NewMuxer(bin).Remux(context.Background(), "v.mp4", "a.m4a", out, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "-hide_banner -y -i v.mp4 -i a.m4a -c copy "+out, strings.TrimSpace(string(got)))

	merged, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "merged", string(merged))
}

func TestRemux_FailureCarriesStderr(t *testing.T) {
	bin := writeScript(t, `echo "Input #0, mov,mp4" >&2
echo "line two" >&2
echo "line three" >&2
echo "v.mp4: Invalid data found when processing input" >&2
exit 1
`)

	err := NewMuxer(bin).Remux(context.Background(), "v.mp4", "a.m4a", "out.mp4", nil)
	require.Error(t, err)

	var ffErr *Error
	require.True(t, errors.As(err, &ffErr))
	require.Contains(t, ffErr.FullStderr(), "Input #0, mov,mp4")
	require.Contains(t, ffErr.FullStderr(), "Invalid data found")
	require.NotContains(t, ffErr.Error(), "Input #0", "message keeps only the tail of stderr")
	require.True(t, strings.HasPrefix(ffErr.Command(), bin+" -hide_banner"))

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 1, exitErr.ExitCode())
}

func TestRemux_ReportsProgress(t *testing.T) {
	bin := writeScript(t, `printf 'total_size=100\nout_time_us=500000\nspeed=2x\nprogress=continue\n'
printf 'total_size=200\nout_time_us=1000000\nspeed=2x\nprogress=end\n'
`)

	var updates []Progress
	err := NewMuxer(bin).Remux(context.Background(), "v", "a", "o", func(p Progress) {
		updates = append(updates, p)
	})
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, int64(100), updates[0].TotalSize)
	assert.False(t, updates[0].Done())
	assert.InDelta(t, 1.0, updates[1].OutTimeSeconds(), 1e-9)
	assert.True(t, updates[1].Done())
}

func TestRemux_MissingBinary(t *testing.T) {
	err := NewMuxer(filepath.Join(t.TempDir(), "nope")).Remux(context.Background(), "v", "a", "o", nil)
	require.ErrorContains(t, err, "failed to start")
}

func TestParseProgressLine(t *testing.T) {
	k, v, ok := ParseProgressLine(" speed=1.5x ")
	require.True(t, ok)
	require.Equal(t, "speed", k)
	require.Equal(t, "1.5x", v)

	_, _, ok = ParseProgressLine("garbage")
	require.False(t, ok)
}

func TestError_MessageWithoutStderr(t *testing.T) {
	e := &Error{Err: errors.New("exit status 1")}
	require.Equal(t, "ffmpeg: exit status 1", e.Error())
	require.Equal(t, "ffmpeg ", e.Command())
}

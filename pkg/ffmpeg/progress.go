package ffmpeg

import (
	"bufio"
	"strconv"
	"strings"
)

// Progress is one block of ffmpeg -progress output.
type Progress struct {
	TotalSize int64  // Current output size in bytes
	OutTimeUS int64  // Output timestamp in microseconds
	Speed     string // Processing speed multiplier (e.g., "2.5x")
	Progress  string // "continue" or "end"
}

// OutTimeSeconds returns the output time in seconds.
func (p Progress) OutTimeSeconds() float64 {
	return float64(p.OutTimeUS) / 1_000_000
}

// Done reports whether this is the final block.
func (p Progress) Done() bool {
	return p.Progress == "end"
}

// ParseProgressLine splits a key=value line.
func ParseProgressLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	key, value, ok = strings.Cut(line, "=")
	return key, value, ok
}

// ProgressParser accumulates key=value lines into Progress blocks.
type ProgressParser struct {
	current Progress
}

// ParseLine updates the state and reports whether a block is complete.
func (p *ProgressParser) ParseLine(line string) bool {
	key, value, ok := ParseProgressLine(line)
	if !ok {
		return false
	}

	switch key {
	case "total_size":
		p.current.TotalSize, _ = strconv.ParseInt(value, 10, 64)
	case "out_time_us":
		p.current.OutTimeUS, _ = strconv.ParseInt(value, 10, 64)
	case "speed":
		p.current.Speed = value
	case "progress":
		p.current.Progress = value
		return true
	}
	return false
}

// Current returns the current progress state.
func (p *ProgressParser) Current() Progress {
	return p.current
}

// ParseProgressOutput feeds every complete block to fn until the final one.
func ParseProgressOutput(scanner *bufio.Scanner, fn func(Progress)) {
	var parser ProgressParser
	for scanner.Scan() {
		if parser.ParseLine(scanner.Text()) {
			fn(parser.Current())
			if parser.Current().Done() {
				return
			}
		}
	}
}

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// DefaultBinary is looked up on PATH when no explicit path is configured.
const DefaultBinary = "ffmpeg"

// Process is a running ffmpeg invocation.
type Process struct {
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	stderr bytes.Buffer
}

// Wait blocks until the process completes and returns any error.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Start runs bin with args. When onProgress is set, stdout is parsed as
// -progress output and every complete block is passed to it.
// The process is killed when ctx is done; callers must always Wait.
func Start(ctx context.Context, bin string, args []string, onProgress func(Progress)) (*Process, error) {
	if bin == "" {
		bin = DefaultBinary
	}
	cmd := exec.CommandContext(ctx, bin, args...)

	p := &Process{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	cmd.Stderr = &p.stderr

	var stdout io.ReadCloser
	if onProgress != nil {
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: failed to create stdout pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: failed to start %s: %w", bin, err)
	}

	go func() {
		defer close(p.done)
		if stdout != nil {
			ParseProgressOutput(bufio.NewScanner(stdout), onProgress)
			// Drain whatever follows the final block so the child never
			// blocks on a full pipe.
			_, _ = io.Copy(io.Discard, stdout)
		}
		if err := cmd.Wait(); err != nil {
			p.err = &Error{
				Binary: bin,
				Args:   args,
				Stderr: p.stderr.String(),
				Err:    err,
			}
		}
	}()

	return p, nil
}

// Error represents an ffmpeg execution error with context.
type Error struct {
	Binary string
	Args   []string
	Stderr string
	Err    error
}

// Error implements error.
func (e *Error) Error() string {
	// Extract just the last few lines of stderr for the error message
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	var lastLines string
	if len(lines) > 3 {
		lastLines = strings.Join(lines[len(lines)-3:], "\n")
	} else {
		lastLines = strings.Join(lines, "\n")
	}

	if lastLines != "" {
		return fmt.Sprintf("ffmpeg: %v: %s", e.Err, lastLines)
	}
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// FullStderr returns the complete stderr output.
func (e *Error) FullStderr() string {
	return e.Stderr
}

// Command returns the command that was executed.
func (e *Error) Command() string {
	bin := e.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	return bin + " " + strings.Join(e.Args, " ")
}

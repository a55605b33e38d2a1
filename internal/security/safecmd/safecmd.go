// Package safecmd provides memory-safe command execution wrappers.
//
// The standard exec.Cmd.Output() and CombinedOutput() methods load the entire
// command output into memory. An external extractor listing a huge archive can
// produce a lot of output, so every stream captured here is bounded.
package safecmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// DefaultMaxOutputSize is the default maximum output size (10 MB).
const DefaultMaxOutputSize = 10 * 1024 * 1024

// MaxOutputSize is the maximum allowed output limit (100 MB).
const MaxOutputSize = 100 * 1024 * 1024

// ErrOutputTooLarge is returned when command output exceeds the size limit.
var ErrOutputTooLarge = errors.New("command output exceeds size limit")

// Config holds configuration for safe command execution.
type Config struct {
	// MaxOutput is the maximum number of bytes kept per stream.
	// Default is DefaultMaxOutputSize (10 MB).
	MaxOutput int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxOutput: DefaultMaxOutputSize,
	}
}

func (c Config) limit() int64 {
	switch {
	case c.MaxOutput <= 0:
		return DefaultMaxOutputSize
	case c.MaxOutput > MaxOutputSize:
		return MaxOutputSize
	default:
		return c.MaxOutput
	}
}

// limitedBuffer keeps the first max bytes written and counts the rest.
type limitedBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	max     int64
	written int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.written += int64(len(p))
	if room := b.max - int64(b.buf.Len()); room > 0 {
		if int64(len(p)) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	// Report full writes so the child never blocks on a full pipe.
	return len(p), nil
}

func (b *limitedBuffer) overflow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written > b.max
}

// RunContext runs the command and returns stdout, stderr and the wait error.
// Both streams are drained concurrently and truncated at the configured limit.
func RunContext(ctx context.Context, cmd *exec.Cmd, cfg Config) (stdout, stderr []byte, err error) {
	limit := cfg.limit()
	outBuf := &limitedBuffer{max: limit}
	errBuf := &limitedBuffer{max: limit}
	cmd.Stdout = outBuf
	cmd.Stderr = errBuf

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting command: %w", err)
	}

	waitErr := cmd.Wait()
	stdout, stderr = outBuf.buf.Bytes(), errBuf.buf.Bytes()

	if ctx.Err() != nil {
		return stdout, stderr, ctx.Err()
	}

	if outBuf.overflow() || errBuf.overflow() {
		return stdout, stderr, fmt.Errorf("%w: stdout=%d bytes, stderr=%d bytes, limit=%d per stream",
			ErrOutputTooLarge, outBuf.written, errBuf.written, limit)
	}

	return stdout, stderr, waitErr
}

// Quote renders argv as a POSIX shell command line. Arguments listed in mask
// (by index) are replaced with asterisks so the line can be logged.
func Quote(argv []string, mask ...int) string {
	masked := make(map[int]bool, len(mask))
	for _, i := range mask {
		masked[i] = true
	}

	parts := make([]string, len(argv))
	for i, arg := range argv {
		if masked[i] {
			parts[i] = "'****'"
			continue
		}
		parts[i] = quoteArg(arg)
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@+,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

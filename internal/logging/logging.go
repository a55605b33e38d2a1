// Package logging sets up the process logger. Logs are written to a daily
// file in the log directory and, optionally, to stdout.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	logFilePrefix = "siterestore-"
	logFileSuffix = ".log"
	logFileMode   = 0600
	logDirMode    = 0700
	dateLayout    = "2006-01-02"

	// maxLogFiles is how many daily files are kept.
	maxLogFiles = 7
)

// Config holds logging configuration.
type Config struct {
	LogDir      string
	Debug       bool
	LogToStdout bool
}

// RotatingLogger writes to one file per day and prunes old files.
type RotatingLogger struct {
	mu      sync.Mutex
	dir     string
	date    string
	file    *os.File
	now     func() time.Time
	stdout  io.Writer
	maxKeep int
}

var (
	current   *RotatingLogger
	currentMu sync.Mutex
)

func newRotatingLogger(dir string, stdout io.Writer) (*RotatingLogger, error) {
	rl := &RotatingLogger{dir: dir, now: time.Now, stdout: stdout, maxKeep: maxLogFiles}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if err := rl.openLocked(); err != nil {
		return nil, err
	}
	return rl, nil
}

func (rl *RotatingLogger) openLocked() error {
	date := rl.now().Format(dateLayout)
	path := filepath.Join(rl.dir, logFilePrefix+date+logFileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFileMode)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	if rl.file != nil {
		rl.file.Close()
	}
	rl.file = f
	rl.date = date
	rl.prune()
	return nil
}

// prune removes daily files beyond maxKeep, oldest first.
func (rl *RotatingLogger) prune() {
	files, err := GetLogFiles(rl.dir)
	if err != nil || len(files) <= rl.maxKeep {
		return
	}
	for _, f := range files[rl.maxKeep:] {
		os.Remove(f)
	}
}

// Write implements io.Writer.
func (rl *RotatingLogger) Write(p []byte) (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.now().Format(dateLayout) != rl.date {
		// Keep writing to the old file if the new one cannot be opened.
		rl.openLocked()
	}
	n, err := rl.file.Write(p)
	if rl.stdout != nil {
		rl.stdout.Write(p)
	}
	return n, err
}

// CurrentFile returns the path of the file being written.
func (rl *RotatingLogger) CurrentFile() string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.file == nil {
		return ""
	}
	return rl.file.Name()
}

// Close closes the current file.
func (rl *RotatingLogger) Close() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.file == nil {
		return nil
	}
	err := rl.file.Close()
	rl.file = nil
	return err
}

// Setup initializes logging with both file and optional stdout output.
// Returns the configured logger and a cleanup function to close the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}

	// Under CGI stdout is the response body.
	var fallback io.Writer = os.Stderr
	if cfg.LogToStdout {
		fallback = os.Stdout
	}
	if err := os.MkdirAll(cfg.LogDir, logDirMode); err != nil {
		return slog.New(slog.NewJSONHandler(fallback, opts)), func() {}, nil
	}

	var stdout io.Writer
	if cfg.LogToStdout {
		stdout = os.Stdout
	}
	rl, err := newRotatingLogger(cfg.LogDir, stdout)
	if err != nil {
		return slog.New(slog.NewJSONHandler(fallback, opts)), func() {}, nil
	}

	currentMu.Lock()
	current = rl
	currentMu.Unlock()

	logger := slog.New(slog.NewJSONHandler(rl, opts))
	cleanup := func() {
		rl.Close()
	}
	return logger, cleanup, nil
}

// SetupWithDefaults creates a logger that writes to file and optionally stdout.
// Under a process supervisor (SITERESTORE_SERVICE=1) stdout is disabled,
// since the supervisor already captures it into the same log.
func SetupWithDefaults(logDir string, debug bool) (*slog.Logger, func(), error) {
	return Setup(Config{
		LogDir:      logDir,
		Debug:       debug,
		LogToStdout: os.Getenv("SITERESTORE_SERVICE") != "1",
	})
}

// GetRotatingLogger returns the logger installed by the last Setup.
func GetRotatingLogger() *RotatingLogger {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}

// GetCurrentLogFile returns the file written by the last Setup.
func GetCurrentLogFile() string {
	rl := GetRotatingLogger()
	if rl == nil {
		return ""
	}
	return rl.CurrentFile()
}

// GetLogFiles lists the daily log files in dir, newest first.
func GetLogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, logFilePrefix) || !strings.HasSuffix(name, logFileSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	// Dates in the names sort lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// Package archive provides entry validation for archive extraction with
// ZIP-Slip prevention. It is shared by every extraction engine so that all
// formats apply the same destination checks.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultMaxFileSize   = 8 * 1024 * 1024 * 1024   // 8 GB per file
	DefaultMaxTotalSize  = 256 * 1024 * 1024 * 1024 // 256 GB total
	DefaultMaxFileCount  = 2_000_000
	DefaultMaxPathLength = 4096
)

var (
	ErrZipSlip           = errors.New("zip slip: path traversal detected")
	ErrFileTooLarge      = errors.New("file exceeds maximum size")
	ErrTooManyFiles      = errors.New("archive contains too many files")
	ErrTotalSizeTooLarge = errors.New("archive total size exceeds limit")
	ErrPathTooLong       = errors.New("file path too long")
	ErrInvalidArchive    = errors.New("invalid archive")
)

// Limits defines extraction limits.
type Limits struct {
	MaxFileSize   int64
	MaxTotalSize  int64
	MaxFileCount  int
	MaxPathLength int
}

// DefaultLimits returns the default extraction limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:   DefaultMaxFileSize,
		MaxTotalSize:  DefaultMaxTotalSize,
		MaxFileCount:  DefaultMaxFileCount,
		MaxPathLength: DefaultMaxPathLength,
	}
}

// Entry describes a single archive member independent of the container format.
type Entry struct {
	// Name is the slash-separated path stored in the archive.
	Name  string
	Size  uint64
	IsDir bool
}

// ValidateEntry checks if an archive entry is safe to extract into destDir.
func ValidateEntry(destDir string, entry Entry, limits Limits) error {
	if len(entry.Name) > limits.MaxPathLength {
		return fmt.Errorf("%w: %s", ErrPathTooLong, entry.Name)
	}

	if _, err := SafeJoin(destDir, entry.Name); err != nil {
		return err
	}

	if !entry.IsDir && limits.MaxFileSize > 0 && entry.Size > uint64(limits.MaxFileSize) {
		return fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, entry.Name, entry.Size)
	}

	return nil
}

// SafeJoin joins an archive member name onto destDir and rejects names that
// would land outside of it.
func SafeJoin(destDir, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: NUL byte in name", ErrZipSlip)
	}

	native := filepath.FromSlash(name)
	if filepath.IsAbs(native) || strings.HasPrefix(name, "/") || filepath.VolumeName(native) != "" {
		return "", fmt.Errorf("%w: absolute path in archive", ErrZipSlip)
	}

	cleanName := filepath.Clean(native)
	if cleanName == ".." || strings.HasPrefix(cleanName, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrZipSlip, name)
	}

	base := filepath.Clean(destDir)
	destPath := filepath.Join(base, cleanName)
	if destPath != base && !strings.HasPrefix(destPath, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s escapes destination", ErrZipSlip, name)
	}

	return destPath, nil
}

// CheckTotals enforces the archive-wide limits once the member list is known.
func CheckTotals(count int, totalSize uint64, limits Limits) error {
	if limits.MaxFileCount > 0 && count > limits.MaxFileCount {
		return fmt.Errorf("%w: %d files", ErrTooManyFiles, count)
	}
	if limits.MaxTotalSize > 0 && totalSize > uint64(limits.MaxTotalSize) {
		return fmt.Errorf("%w: %d bytes", ErrTotalSizeTooLarge, totalSize)
	}
	return nil
}

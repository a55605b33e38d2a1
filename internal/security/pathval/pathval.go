// Package pathval provides path validation to prevent directory traversal attacks.
// Every path the bootstrap writes to is validated against the directory the
// bootstrap runs from, with a small forbidden list on top.
package pathval

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrForbiddenPath    = errors.New("access to path is forbidden")
	ErrPathNotAllowed   = errors.New("path is not in allowed list")
	ErrSymlinkTraversal = errors.New("symlink resolves outside allowed paths")
	ErrInvalidName      = errors.New("invalid folder name")
)

// ForbiddenNames are entries directly under the root that are never written.
var ForbiddenNames = []string{
	".git",
	".ssh",
	"wp-config.php",
}

var folderNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Validator validates file paths.
type Validator struct {
	allowedPaths   []string
	forbiddenPaths []string
}

// New creates a validator confined to root.
func New(root string) *Validator {
	root = SanitizePath(root)
	forbidden := make([]string, 0, len(ForbiddenNames))
	for _, name := range ForbiddenNames {
		forbidden = append(forbidden, filepath.Join(root, name))
	}
	allowed := []string{root}
	// Symlinks are resolved fully, so a root under a linked directory is
	// also allowed by its real location.
	if resolved, err := filepath.EvalSymlinks(root); err == nil && resolved != root {
		allowed = append(allowed, resolved)
	}
	return &Validator{
		allowedPaths:   allowed,
		forbiddenPaths: forbidden,
	}
}

// Validate checks if a path is safe to access.
func (v *Validator) Validate(path string) error {
	if strings.ContainsRune(path, 0) {
		return ErrPathTraversal
	}

	cleanPath := SanitizePath(path)

	for _, forbidden := range v.forbiddenPaths {
		if within(cleanPath, forbidden) {
			return ErrForbiddenPath
		}
	}

	for _, allowedPath := range v.allowedPaths {
		if within(cleanPath, allowedPath) {
			return nil
		}
	}

	if strings.Contains(path, "..") {
		return ErrPathTraversal
	}
	return ErrPathNotAllowed
}

// ValidateWithSymlinkResolution validates the path and resolves symlinks.
func (v *Validator) ValidateWithSymlinkResolution(path string) error {
	if err := v.Validate(path); err != nil {
		return err
	}

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Not created yet.
			return nil
		}
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return err
		}

		if err := v.Validate(resolved); err != nil {
			return ErrSymlinkTraversal
		}
	}

	return nil
}

// SanitizePath cleans and normalizes a path.
func SanitizePath(path string) string {
	cleaned := filepath.Clean(path)

	if abs, err := filepath.Abs(cleaned); err == nil {
		return abs
	}

	return cleaned
}

// SanitizeDir normalizes a client supplied directory: NUL bytes are dropped,
// the result is cleaned and made absolute. An empty input stays empty.
func SanitizeDir(input string) string {
	input = strings.ReplaceAll(strings.TrimSpace(input), "\x00", "")
	if input == "" {
		return ""
	}
	return SanitizePath(input)
}

// ValidateFolderName accepts a single path element such as an installer folder
// name. Separators, dot names and unusual characters are rejected.
func ValidateFolderName(name string) error {
	if name == "." || name == ".." || !folderNamePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

func within(path, base string) bool {
	if path == base {
		return true
	}
	if strings.HasSuffix(base, string(os.PathSeparator)) {
		return strings.HasPrefix(path, base)
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}

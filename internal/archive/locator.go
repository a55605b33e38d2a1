package archive

import (
	"os"
	"path/filepath"

	"github.com/slimrmm/siterestore/internal/security/pathval"
)

// Locate resolves the archive path. A request supplied directory takes
// precedence over rootDir. The canonical path is returned when the file
// exists, the joined candidate otherwise.
func Locate(rootDir, overrideDir, archiveName string) string {
	dir := pathval.SanitizeDir(overrideDir)
	if dir == "" {
		dir = rootDir
	}
	candidate := filepath.Join(dir, filepath.Base(archiveName))

	if _, err := os.Stat(candidate); err != nil {
		return candidate
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return candidate
	}
	if abs, err := filepath.Abs(resolved); err == nil {
		return abs
	}
	return resolved
}

package reconcile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/slimrmm/siterestore/internal/failure"
)

// PermStyle selects how permissions are normalized after extraction.
type PermStyle int

const (
	// PermExplicit applies the configured directory and file modes,
	// directories first.
	PermExplicit PermStyle = iota
	// PermDefault resets everything to the process default bits.
	PermDefault
)

const (
	DefaultDirMode  fs.FileMode = 0755
	DefaultFileMode fs.FileMode = 0644
)

var (
	umaskOnce  sync.Once
	umaskValue fs.FileMode
)

// Umask returns the process umask, read once.
func Umask() fs.FileMode {
	umaskOnce.Do(func() {
		umaskValue = readUmask()
	})
	return umaskValue
}

// FixPermissions walks dir and normalizes modes. Symlinks are not followed.
func FixPermissions(dir string, style PermStyle, dirMode, fileMode fs.FileMode) error {
	if style == PermDefault {
		mask := Umask()
		dirMode = 0777 &^ mask
		fileMode = 0666 &^ mask
	}
	if dirMode == 0 {
		dirMode = DefaultDirMode
	}
	if fileMode == 0 {
		fileMode = DefaultFileMode
	}

	var dirs, files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			dirs = append(dirs, path)
		case d.Type().IsRegular():
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return &failure.ExtractionError{Reason: "Unable to scan the installer folder.", Err: err}
	}

	for _, p := range dirs {
		if err := os.Chmod(p, dirMode); err != nil {
			return &failure.ExtractionError{Reason: fmt.Sprintf("Unable to set permissions on %s.", filepath.Base(p)), Err: err}
		}
	}
	for _, p := range files {
		if err := os.Chmod(p, fileMode); err != nil {
			return &failure.ExtractionError{Reason: fmt.Sprintf("Unable to set permissions on %s.", filepath.Base(p)), Err: err}
		}
	}
	return nil
}

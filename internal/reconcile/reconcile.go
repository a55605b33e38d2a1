// Package reconcile brings the extracted installer folder into its final
// shape: stale artifacts from earlier packages are purged, the folder is
// renamed into place and permissions are normalized.
package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slimrmm/siterestore/internal/archive"
	"github.com/slimrmm/siterestore/internal/failure"
)

// AccessRestrictionFile is left behind by packages built with a locked-down
// installer folder and blocks the next stage.
const AccessRestrictionFile = ".htaccess"

// PurgeStale deletes hash-stamped artifacts in dir whose hash differs from
// hash. Artifacts for the current package are kept. A missing dir is not an
// error. The names of removed files are returned.
func PurgeStale(dir, hash string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &failure.ExtractionError{Reason: "Unable to read the installer folder.", Err: err}
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		found, ok := archive.ArtifactHash(e.Name())
		if !ok || found == hash {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, &failure.ExtractionError{
				Reason:      "Unable to remove files left by a previous installation.",
				Remediation: fmt.Sprintf("Delete %s manually and reload the installer.", e.Name()),
				Err:         err,
			}
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}

// Relocate moves root/source to root/target when the names differ. An
// existing target folder is removed first.
func Relocate(root, source, target string) error {
	if source == target {
		return nil
	}
	from := filepath.Join(root, source)
	to := filepath.Join(root, target)

	if _, err := os.Stat(from); err != nil {
		return &failure.ExtractionError{Reason: "The extracted installer folder is missing.", Err: err}
	}
	if err := os.RemoveAll(to); err != nil {
		return &failure.ExtractionError{
			Reason:      "Unable to remove the existing installer folder.",
			Remediation: fmt.Sprintf("Delete the folder %s manually and reload the installer.", target),
			Err:         err,
		}
	}
	if err := os.Rename(from, to); err != nil {
		return &failure.ExtractionError{
			Reason:      "Unable to rename the installer folder.",
			Remediation: "Check that the web server user can write to the installation directory.",
			Err:         err,
		}
	}
	return nil
}

// RemoveAccessRestriction deletes a residual access-restriction file from
// the installer folder. It reports whether one was removed.
func RemoveAccessRestriction(dir string) (bool, error) {
	path := filepath.Join(dir, AccessRestrictionFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &failure.ExtractionError{Reason: "Unable to remove the access restriction file.", Err: err}
	}
	return true, nil
}

// InstallerPresent reports whether the next-stage entry exists in dir.
func InstallerPresent(dir, entry string) bool {
	info, err := os.Stat(filepath.Join(dir, entry))
	return err == nil && info.Mode().IsRegular()
}

// IsExtracted reports whether dir already holds the installer entry and the
// manifest for hash.
func IsExtracted(dir, entry, hash string) bool {
	if !InstallerPresent(dir, entry) {
		return false
	}
	_, err := os.Stat(filepath.Join(dir, archive.ManifestName(hash)))
	return err == nil
}
